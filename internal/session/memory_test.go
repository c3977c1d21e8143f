package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := New("5215512345678")
	s.Step = 2
	s.Fields["rfc"] = "XAXX010101000"

	require.NoError(t, store.Put(ctx, s.UserID, s))

	got, err := store.Get(ctx, s.UserID)
	require.NoError(t, err)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, 2, got.Step)
	assert.Equal(t, map[string]string{"rfc": "XAXX010101000"}, got.Fields)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStore_GetAbsent(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.Get(context.Background(), "nobody")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "u1", New("u1")))
	require.NoError(t, store.Delete(ctx, "u1"))

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// deleting an absent session is a no-op
	assert.NoError(t, store.Delete(ctx, "u1"))
}

func TestMemoryStore_IsolatesStoredSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := New("u1")
	s.Fields["rfc"] = "AAA010101AAA"
	require.NoError(t, store.Put(ctx, "u1", s))

	// mutating the caller's copy must not leak into the store
	s.Fields["rfc"] = "mutated"

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "AAA010101AAA", got.Fields["rfc"])

	// mutating a returned copy must not leak either
	got.Fields["cp"] = "99999"

	again, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.NotContains(t, again.Fields, "cp")
}

func TestMemoryStore_All(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "u1", New("u1")))
	require.NoError(t, store.Put(ctx, "u2", New("u2")))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
