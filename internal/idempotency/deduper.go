// Package idempotency deduplicates webhook deliveries. Meta re-delivers a
// message when the webhook acknowledgment is slow or lost; processing the
// same message twice would advance the conversation by two steps.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPattern = "webhook:dedup:%s"

// Deduper reports whether a delivery is the first one seen for a message.
type Deduper interface {
	// FirstDelivery returns true exactly once per messageID within ttl.
	FirstDelivery(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
}

// RedisDeduper marks seen message IDs with SetNX leases, making dedup work
// across replicas.
type RedisDeduper struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Deduper = (*RedisDeduper)(nil)

// NewRedisDeduper builds a Redis-backed Deduper.
func NewRedisDeduper(client *redis.Client, log *slog.Logger) *RedisDeduper {
	if log == nil {
		log = slog.Default()
	}

	return &RedisDeduper{client: client, log: log}
}

// FirstDelivery claims the message ID, returning false when already claimed.
func (d *RedisDeduper) FirstDelivery(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf(dedupKeyPattern, messageID)

	first, err := d.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		d.log.Error("failed to claim webhook message",
			slog.String("message_id", messageID), slog.Any("error", err))
		return false, err
	}

	return first, nil
}

// MemoryDeduper is the in-process fallback for redis-less deployments.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

var _ Deduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper returns an empty in-memory Deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

// FirstDelivery claims the message ID, pruning expired claims as it goes.
func (d *MemoryDeduper) FirstDelivery(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for id, expiresAt := range d.seen {
		if now.After(expiresAt) {
			delete(d.seen, id)
		}
	}

	if _, ok := d.seen[messageID]; ok {
		return false, nil
	}

	d.seen[messageID] = now.Add(ttl)
	return true, nil
}
