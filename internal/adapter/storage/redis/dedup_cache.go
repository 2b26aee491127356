package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupCache implements ports.DedupCache using Redis. It is a fast-path
// filter in front of the durable webhook_events guard: a cache miss is
// never trusted as "new", and a marker is written only after the event
// committed, so losing the cache can only cause extra database work,
// never a lost or double-applied event.
type DedupCache struct {
	client *goredis.Client
	prefix string
}

// NewDedupCache creates a new Redis-backed webhook dedup cache.
func NewDedupCache(client *goredis.Client) *DedupCache {
	return &DedupCache{
		client: client,
		prefix: "webhook:seen:",
	}
}

// Seen reports whether the event id was already processed. Returns
// false, nil on a miss.
func (c *DedupCache) Seen(ctx context.Context, eventID string) (bool, error) {
	err := c.client.Get(ctx, c.prefix+eventID).Err()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis dedup get: %w", err)
	}
	return true, nil
}

// MarkSeen records the event id with TTL. Called only after the event's
// transaction committed.
func (c *DedupCache) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+eventID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis dedup set: %w", err)
	}
	return nil
}
