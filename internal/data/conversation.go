package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RxGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// ConversationRepo implements biz.ConversationRepo on Redis. Each
// conversation's working memory is one JSON value under
// conversation:{id}, refreshed with a TTL on every save so abandoned
// conversations expire even without the purge job.
type ConversationRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewConversationRepo creates a new conversation repository.
func NewConversationRepo(d *Data, logger log.Logger) *ConversationRepo {
	return &ConversationRepo{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Load retrieves the working state for a conversation.
func (r *ConversationRepo) Load(ctx context.Context, conversationID string) (*model.RefillState, error) {
	if r.rdb == nil {
		return nil, errors.New("conversation store unavailable")
	}

	key := BuildCacheKey(CacheKeyConversation, conversationID)
	raw, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	var state model.RefillState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	return &state, nil
}

// Save persists the working state and refreshes its expiry.
func (r *ConversationRepo) Save(ctx context.Context, state *model.RefillState) error {
	if r.rdb == nil {
		return errors.New("conversation store unavailable")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", state.ConversationID, err)
	}

	key := BuildCacheKey(CacheKeyConversation, state.ConversationID)
	if err := r.rdb.Set(ctx, key, data, TTLConversation).Err(); err != nil {
		return fmt.Errorf("save conversation %s: %w", state.ConversationID, err)
	}
	return nil
}

// Delete removes a conversation's working state.
func (r *ConversationRepo) Delete(ctx context.Context, conversationID string) error {
	if r.rdb == nil {
		return errors.New("conversation store unavailable")
	}

	key := BuildCacheKey(CacheKeyConversation, conversationID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// PurgeStale scans for conversations idle longer than maxIdle and deletes
// them. Terminal conversations age out the same way; their outcome is
// already audited.
func (r *ConversationRepo) PurgeStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	if r.rdb == nil {
		return 0, errors.New("conversation store unavailable")
	}

	cutoff := time.Now().Add(-maxIdle)
	pattern := BuildCacheKey(CacheKeyConversation, "*")
	purged := 0

	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := r.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return purged, fmt.Errorf("purge scan read %s: %w", key, err)
		}

		var state model.RefillState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			// Unreadable state is unrecoverable; drop it.
			r.logger.Warnw("msg", "purging undecodable conversation", "key", key, "error", err)
			if err := r.rdb.Del(ctx, key).Err(); err == nil {
				purged++
			}
			continue
		}

		if state.UpdatedAt.Before(cutoff) {
			if err := r.rdb.Del(ctx, key).Err(); err != nil {
				return purged, fmt.Errorf("purge delete %s: %w", key, err)
			}
			purged++
		}
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("purge scan: %w", err)
	}
	return purged, nil
}
