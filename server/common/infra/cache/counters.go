package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// HashCounters caches int64 counters in one hash per owner key, e.g. unread
// counts per reader role for a session. A whole hash expires together.
type HashCounters struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewHashCounters(client *redis.Client, prefix string, ttl time.Duration) *HashCounters {
	return &HashCounters{client: client, prefix: prefix, ttl: ttl}
}

func (h *HashCounters) key(owner string) string {
	return h.prefix + ":" + owner
}

// Get returns ok=false on a cache miss.
func (h *HashCounters) Get(ctx context.Context, owner, field string) (int64, bool, error) {
	n, err := h.client.HGet(ctx, h.key(owner), field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (h *HashCounters) Set(ctx context.Context, owner, field string, value int64) error {
	key := h.key(owner)
	pipe := h.client.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	pipe.Expire(ctx, key, h.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (h *HashCounters) Drop(ctx context.Context, owner string) error {
	return h.client.Del(ctx, h.key(owner)).Err()
}
