// Package progress manages the lifecycle of per-session progress records:
// the total and executed unit counts of a running invocation graph.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Tracker wraps a ProgressStore with the lock discipline of the record
// lifecycle. Start and Finish must only be called while the caller holds the
// session's lock; Increment is atomic and called from queue workers without
// it. A read performed without the lock is not authoritative: only a read
// under the lock can conclude "no active task".
type Tracker struct {
	store  ports.ProgressStore
	logger *slog.Logger
}

// New creates a tracker. A nil logger defaults to no-op.
func New(store ports.ProgressStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{store: store, logger: logger}
}

// Start registers a fresh record for a new graph, replacing any record of a
// superseded graph in the same write. Requires the session lock: on an
// invoker-to-invoker transition the swap happens within one acquisition, so
// concurrent polls blocked on the lock always find the new record in place.
func (t *Tracker) Start(ctx context.Context, sessionID, taskID string, total int) error {
	rec := domain.ProgressRecord{
		SessionID: sessionID,
		TaskID:    taskID,
		Total:     total,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to create progress record: %w", err)
	}
	t.logger.Debug("progress record created",
		"session_id", sessionID, "task_id", taskID, "total", total)
	return nil
}

// Increment bumps the executed counter after a unit completes. A missing
// record means the graph was superseded; that is a no-op, not an error.
// Store failures are logged and swallowed: progress is advisory and must
// never fail a unit that already succeeded.
func (t *Tracker) Increment(ctx context.Context, sessionID string) {
	if err := t.store.Increment(ctx, sessionID); err != nil {
		t.logger.Warn("failed to increment progress", "session_id", sessionID, "err", err)
	}
}

// Finish removes the record once the graph's terminal event commits (or the
// graph fails). Requires the session lock.
func (t *Tracker) Finish(ctx context.Context, sessionID string) error {
	if err := t.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete progress record: %w", err)
	}
	t.logger.Debug("progress record removed", "session_id", sessionID)
	return nil
}

// Read returns the current record, or nil when no graph is running.
func (t *Tracker) Read(ctx context.Context, sessionID string) (*domain.ProgressRecord, error) {
	return t.store.Read(ctx, sessionID)
}
