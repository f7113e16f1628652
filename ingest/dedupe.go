package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "presence:event:"

// Deduper remembers which events have already been delivered.
type Deduper interface {
	// Add records the event id and returns true if it was newly added.
	Add(ctx context.Context, eventID string) (bool, error)
	// Remove forgets an id, used when delivery fails so a redelivery is
	// processed again.
	Remove(ctx context.Context, eventID string) error
}

// RedisDeduper stores delivered event ids in redis so all instances share
// them.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) Add(ctx context.Context, eventID string) (bool, error) {
	return r.client.SetNX(ctx, dedupeKeyPrefix+eventID, 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, eventID string) error {
	return r.client.Del(ctx, dedupeKeyPrefix+eventID).Err()
}
