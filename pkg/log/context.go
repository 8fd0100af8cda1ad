package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type used to store a RequestContext.
type contextKey string

const requestContextKey contextKey = "rxgate_request_context"

// RequestContext carries per-request tracing data through a Context so
// log lines emitted anywhere in the call tree can be correlated.
type RequestContext struct {
	RequestID      string                 // short 10-char ID, e.g. mgrn0zfqda
	KeyName        string                 // API key name
	KeyID          string                 // API key ID
	ConversationID string                 // refill conversation being driven, when known
	StartTime      time.Time              // request start
	Metadata       map[string]interface{} // extension metadata
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 alphabet (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID returns a 10-character random request ID.
// base36 keeps it short and cheaper than a UUID.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into ctx. Called by the
// HTTP middleware at the start of each request.
func WithRequestContext(ctx context.Context, requestID, keyName, keyID string) context.Context {
	reqCtx := &RequestContext{
		RequestID: requestID,
		KeyName:   keyName,
		KeyID:     keyID,
		StartTime: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from ctx, returning an
// empty one when absent so callers never need a nil check.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{
			RequestID: "unknown",
			Metadata:  make(map[string]interface{}),
		}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{
		RequestID: "unknown",
		Metadata:  make(map[string]interface{}),
	}
}

// GetRequestID extracts the request ID from ctx.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetKeyName extracts the API key name from ctx.
func GetKeyName(ctx context.Context) string {
	return GetRequestContext(ctx).KeyName
}

// SetConversationID records the conversation a request resolved to.
// The middleware cannot know it; the service layer fills it in once
// the request body has been parsed.
func SetConversationID(ctx context.Context, conversationID string) {
	GetRequestContext(ctx).ConversationID = conversationID
}

// GetConversationID extracts the conversation ID from ctx.
func GetConversationID(ctx context.Context) string {
	return GetRequestContext(ctx).ConversationID
}

// SetMetadata attaches extra tracing data to the request context.
func SetMetadata(ctx context.Context, key string, value interface{}) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		reqCtx.Metadata = make(map[string]interface{})
	}
	reqCtx.Metadata[key] = value
}

// GetMetadata reads extra tracing data from the request context.
func GetMetadata(ctx context.Context, key string) (interface{}, bool) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		return nil, false
	}
	value, ok := reqCtx.Metadata[key]
	return value, ok
}

// GetElapsedTime returns milliseconds since the request started.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
