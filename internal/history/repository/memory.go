package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository provides in-memory history storage operations
type MemoryRepository struct {
	sessions map[string]*SessionRecord
	ordered  []*SessionRecord // insertion order, oldest first
	pushes   []*PushRecord    // insertion order, oldest first
	mu       sync.RWMutex
}

// Ensure MemoryRepository implements Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory history repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*SessionRecord),
	}
}

// Close is a no-op for in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

// RecordSession stores a finished session record
func (r *MemoryRepository) RecordSession(ctx context.Context, record *SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()

	r.sessions[record.ID] = record
	r.ordered = append(r.ordered, record)
	return nil
}

// GetSession retrieves a session record by ID
func (r *MemoryRepository) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session record not found: %s", id)
	}
	return record, nil
}

// ListSessions returns session records newest first, up to limit (0 = all)
func (r *MemoryRepository) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*SessionRecord, 0, len(r.ordered))
	for i := len(r.ordered) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, r.ordered[i])
	}
	return result, nil
}

// RecordPush stores a publish attempt
func (r *MemoryRepository) RecordPush(ctx context.Context, record *PushRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.CreatedAt = time.Now().UTC()

	r.pushes = append(r.pushes, record)
	return nil
}

// ListPushes returns push records newest first, up to limit (0 = all)
func (r *MemoryRepository) ListPushes(ctx context.Context, limit int) ([]*PushRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*PushRecord, 0, len(r.pushes))
	for i := len(r.pushes) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, r.pushes[i])
	}
	return result, nil
}
