package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	conversationLockPattern = "conversation:lock:%s"
	conversationLockTTL     = 5 * time.Second
)

// ErrConversationLocked indicates another delivery for the same user is
// already being processed.
var ErrConversationLocked = errors.New("conversation is locked, try again later")

// Locker serializes turns per user so two concurrent deliveries cannot both
// read the same step and both advance it.
type Locker interface {
	// Acquire takes the lock for userID and returns its release function.
	Acquire(ctx context.Context, userID string) (func(), error)
}

// KeyedMutex is the in-process Locker. Acquire blocks until the holder
// releases, so same-user deliveries within one process are serialized
// rather than dropped.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty in-process locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*userLock)}
}

// Acquire blocks until the per-user mutex is available.
func (k *KeyedMutex) Acquire(ctx context.Context, userID string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[userID]
	if !ok {
		l = &userLock{}
		k.locks[userID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	release := func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, userID)
		}
		k.mu.Unlock()
	}

	return release, nil
}

// RedisLocker serializes turns across processes using SetNX leases. Unlike
// the in-process locker it fails fast with ErrConversationLocked; the
// webhook layer drops the colliding delivery.
type RedisLocker struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisLocker builds a Redis-backed Locker.
func NewRedisLocker(client *redis.Client, log *slog.Logger) *RedisLocker {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLocker{client: client, log: log}
}

// Acquire takes a short lease on the user's conversation.
func (r *RedisLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	key := fmt.Sprintf(conversationLockPattern, userID)

	acquired, err := r.client.SetNX(ctx, key, 1, conversationLockTTL).Result()
	if err != nil {
		r.log.Error("failed to acquire conversation lock",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	if !acquired {
		r.log.Warn("conversation lock already held", slog.String("user_id", userID))
		return nil, ErrConversationLocked
	}

	release := func() {
		if err := r.client.Del(context.Background(), key).Err(); err != nil {
			r.log.Error("failed to release conversation lock",
				slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	return release, nil
}
