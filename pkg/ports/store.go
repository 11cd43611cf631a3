package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// SessionStore persists sessions. The store needs no optimistic-concurrency
// contract of its own: every read-modify-write goes through the session lock
// manager, which already serializes access per session.
type SessionStore interface {
	// Save persists the session under its ID.
	Save(ctx context.Context, s *domain.Session) error

	// Load retrieves a session. Returns domain.ErrSessionNotFound if the
	// session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of known sessions.
	List(ctx context.Context) ([]string, error)
}

// ProgressStore persists the ephemeral per-session progress record of a
// running invocation graph. Create and Delete are only called while the
// session's lock is held; Increment is atomic and lock-free.
type ProgressStore interface {
	// Create writes a fresh record, replacing any existing one.
	Create(ctx context.Context, rec domain.ProgressRecord) error

	// Increment bumps the executed counter. It is a no-op, not an error,
	// when no record exists (the graph was already superseded).
	Increment(ctx context.Context, sessionID string) error

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Read returns the record, or nil when absent.
	Read(ctx context.Context, sessionID string) (*domain.ProgressRecord, error)
}
