// Package middleware provides HTTP middleware for authentication, logging, and request processing.
package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkglog "RxGate/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// apiKeyContextKey is the context key for storing API key
	apiKeyContextKey contextKey = "api_key"
	// apiKeyMaskedContextKey is the context key for storing masked API key
	apiKeyMaskedContextKey contextKey = "api_key_masked"
)

// Auth returns an HTTP authentication middleware. It extracts the API key
// from the request and records an authentication log line with the masked
// key. Integration callers are the portal gateway and the voice bridge;
// both present a service-level key, never patient credentials.
//
// Example output:
//
//	🔓 Authenticated request from key: [masked] (rx-porta***) in 2ms
func Auth(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				apiKey    string
				userAgent string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				if ht, ok := tr.(http.Transporter); ok {
					req := ht.Request()

					authHeader := req.Header.Get("Authorization")
					if authHeader != "" {
						apiKey = strings.TrimPrefix(authHeader, "Bearer ")
						apiKey = strings.TrimSpace(apiKey)
					}

					if apiKey == "" {
						apiKey = req.Header.Get("X-API-Key")
					}

					userAgent = req.Header.Get("User-Agent")
				}
			}

			if apiKey != "" {
				authDuration := time.Since(startTime).Milliseconds()
				maskedKey := maskAPIKey(apiKey)

				logger.Auth(
					"Authenticated request from key: [masked] ("+maskedKey+") in "+formatDuration(authDuration),
					"api_key_masked", maskedKey,
					"duration_ms", authDuration,
				)

				if userAgent != "" {
					logger.API(
						"   User-Agent: \""+userAgent+"\"",
						"user_agent", userAgent,
					)
				}

				ctx = context.WithValue(ctx, apiKeyContextKey, apiKey)
				ctx = context.WithValue(ctx, apiKeyMaskedContextKey, maskedKey)

				// Logging may already have built a request context; hand the
				// masked key over through its metadata
				reqCtx := pkglog.GetRequestContext(ctx)
				if reqCtx.RequestID != "unknown" {
					pkglog.SetMetadata(ctx, "api_key_masked", maskedKey)
				}
			}

			return handler(ctx, req)
		}
	}
}

// maskAPIKey keeps only the first 8 characters of a key.
// Example: "sk-1234567890abcdef" -> "sk-12345***"
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}

	return key[:8] + "***"
}

// formatDuration renders a duration for humans: 5ms, 150ms, 2.5s.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	return fmt.Sprintf("%.1fs", seconds)
}
