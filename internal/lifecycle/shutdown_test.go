package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsAllHooks(t *testing.T) {
	s := NewShutdown(nil)

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		s.Register("hook", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	err := s.Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(3), ran.Load())
}

func TestShutdownCollectsFailures(t *testing.T) {
	s := NewShutdown(nil)

	s.Register("ok", func(ctx context.Context) error { return nil })
	s.Register("broken", func(ctx context.Context) error {
		return errors.New("connection reset")
	})

	err := s.Execute(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: connection reset")
}

func TestShutdownHooksRunConcurrently(t *testing.T) {
	s := NewShutdown(nil)

	block := make(chan struct{})
	for i := 0; i < 2; i++ {
		s.Register("waiter", func(ctx context.Context) error {
			block <- struct{}{}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- s.Execute(context.Background()) }()

	// Both hooks must be in flight at once for both sends to drain.
	for i := 0; i < 2; i++ {
		select {
		case <-block:
		case <-time.After(time.Second):
			t.Fatal("hooks did not run in parallel")
		}
	}

	require.NoError(t, <-done)
}
