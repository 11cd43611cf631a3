package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// incrementScript bumps the executed counter only while a record exists.
// Incrementing an absent record must not resurrect it as a stray hash.
const incrementScript = `
	if redis.call("exists", KEYS[1]) == 1 then
		return redis.call("hincrby", KEYS[1], "executed", 1)
	else
		return -1
	end
`

// ProgressStore implements ports.ProgressStore on a redis hash per session.
type ProgressStore struct {
	client *backend.Client
	prefix string
}

// ProgressOption configures the progress store.
type ProgressOption func(*ProgressStore)

// WithProgressPrefix overrides the key prefix.
func WithProgressPrefix(prefix string) ProgressOption {
	return func(p *ProgressStore) {
		p.prefix = prefix
	}
}

// NewProgressStore creates a progress store from an existing client.
func NewProgressStore(client *backend.Client, opts ...ProgressOption) *ProgressStore {
	p := &ProgressStore{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ProgressStore) key(sessionID string) string {
	return p.prefix + "progress:" + sessionID
}

// Create writes a fresh record, replacing any existing one in the same
// pipeline.
func (p *ProgressStore) Create(ctx context.Context, rec domain.ProgressRecord) error {
	key := p.key(rec.SessionID)

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		"task_id":    rec.TaskID,
		"total":      rec.Total,
		"executed":   rec.Executed,
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create progress record: %w", err)
	}
	return nil
}

// Increment bumps the executed counter; absent records are left absent.
func (p *ProgressStore) Increment(ctx context.Context, sessionID string) error {
	if err := p.client.Eval(ctx, incrementScript, []string{p.key(sessionID)}).Err(); err != nil {
		return fmt.Errorf("failed to increment progress: %w", err)
	}
	return nil
}

// Delete removes the record.
func (p *ProgressStore) Delete(ctx context.Context, sessionID string) error {
	return p.client.Del(ctx, p.key(sessionID)).Err()
}

// Read returns the record, or nil when absent.
func (p *ProgressStore) Read(ctx context.Context, sessionID string) (*domain.ProgressRecord, error) {
	fields, err := p.client.HGetAll(ctx, p.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	total, err := strconv.Atoi(fields["total"])
	if err != nil {
		return nil, fmt.Errorf("corrupt progress total %q: %w", fields["total"], err)
	}
	executed, err := strconv.Atoi(fields["executed"])
	if err != nil {
		return nil, fmt.Errorf("corrupt progress executed %q: %w", fields["executed"], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt progress created_at %q: %w", fields["created_at"], err)
	}

	return &domain.ProgressRecord{
		SessionID: sessionID,
		TaskID:    fields["task_id"],
		Total:     total,
		Executed:  executed,
		CreatedAt: createdAt,
	}, nil
}
