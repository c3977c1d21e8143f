package session

import (
	"context"
	"errors"
)

// ErrSessionNotFound indicates there is no conversation for the user. It is
// an explicit signal, distinct from a session at step 0.
var ErrSessionNotFound = errors.New("session not found")

// Store defines the persistence contract for conversation sessions.
type Store interface {
	// Get returns the session for userID or ErrSessionNotFound when absent.
	Get(ctx context.Context, userID string) (*Session, error)
	// Put saves the session for userID, stamping UpdatedAt.
	Put(ctx context.Context, userID string, s *Session) error
	// Delete removes the session for userID. Deleting an absent session
	// is not an error.
	Delete(ctx context.Context, userID string) error
	// All returns every stored session, used by the idle sweeper and the
	// metrics collector.
	All(ctx context.Context) ([]*Session, error)
}
