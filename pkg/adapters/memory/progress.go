package memory

import (
	"context"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// ProgressStore implements ports.ProgressStore backed by a map.
type ProgressStore struct {
	mu      sync.Mutex
	records map[string]*domain.ProgressRecord
}

// NewProgressStore creates an empty in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{records: make(map[string]*domain.ProgressRecord)}
}

// Create writes a fresh record, replacing any existing one.
func (p *ProgressStore) Create(ctx context.Context, rec domain.ProgressRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[rec.SessionID] = &rec
	return nil
}

// Increment bumps the executed counter; no-op when the record is absent.
func (p *ProgressStore) Increment(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[sessionID]
	if !ok {
		return nil
	}
	rec.Executed++
	return nil
}

// Delete removes the record.
func (p *ProgressStore) Delete(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, sessionID)
	return nil
}

// Read returns a copy of the record, or nil when absent.
func (p *ProgressStore) Read(ctx context.Context, sessionID string) (*domain.ProgressRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}
