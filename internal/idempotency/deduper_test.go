package idempotency

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduper_FirstDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := NewRedisDeduper(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	first, err := d.FirstDelivery(ctx, "wamid.ABC", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstDelivery(ctx, "wamid.ABC", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := d.FirstDelivery(ctx, "wamid.XYZ", time.Hour)
	require.NoError(t, err)
	assert.True(t, other)

	// claims expire
	mr.FastForward(2 * time.Hour)
	expired, err := d.FirstDelivery(ctx, "wamid.ABC", time.Hour)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestMemoryDeduper_FirstDelivery(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	first, err := d.FirstDelivery(ctx, "wamid.ABC", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstDelivery(ctx, "wamid.ABC", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestMemoryDeduper_ExpiredClaimsArePruned(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	_, err := d.FirstDelivery(ctx, "wamid.ABC", -time.Second)
	require.NoError(t, err)

	first, err := d.FirstDelivery(ctx, "wamid.ABC", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
}
