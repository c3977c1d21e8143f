package session

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner sweeps sessions whose last activity exceeds the idle TTL. Users
// who start the flow and walk away would otherwise accumulate forever.
type Cleaner struct {
	store    Store
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

// NewCleaner constructs a Cleaner instance.
func NewCleaner(store Store, log *slog.Logger, ttl, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		store:    store,
		log:      log,
		ttl:      ttl,
		interval: interval,
	}
}

// Run starts the sweep loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.store == nil || c.ttl <= 0 || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if reason := ctx.Err(); reason != nil {
				c.log.Info("session cleaner stopped", slog.String("reason", reason.Error()))
			} else {
				c.log.Info("session cleaner stopped")
			}
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	sessions, err := c.store.All(ctx)
	if err != nil {
		c.log.Error("session cleaner failed to list sessions", slog.Any("error", err))
		return
	}

	for _, s := range sessions {
		if s == nil {
			continue
		}

		if time.Since(s.UpdatedAt) <= c.ttl {
			continue
		}

		if err := c.store.Delete(ctx, s.UserID); err != nil {
			c.log.Error("session cleaner failed to delete session",
				slog.String("user_id", s.UserID), slog.Any("error", err))
			continue
		}

		c.log.Info("idle session evicted",
			slog.String("user_id", s.UserID), slog.Int("step", s.Step))
	}
}
