package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency claims one-shot keys with SETNX so a retried client frame is
// persisted at most once inside the TTL window.
type Idempotency struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewIdempotency(client *redis.Client, prefix string, ttl time.Duration) *Idempotency {
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Idempotency{client: client, prefix: prefix, ttl: ttl}
}

func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	return i.client.SetNX(ctx, i.prefix+key, "1", i.ttl).Result()
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.client.Del(ctx, i.prefix+key).Err()
}
