package memory

import (
	"context"
	"sync"

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

// AuditStore implements audit.Store with a bounded in-memory ring buffer.
// Oldest records are overwritten once capacity is reached. Suitable for
// tests and for deployments that only need recent history.
type AuditStore struct {
	mu       sync.RWMutex
	records  []audit.Record
	next     int
	size     int
	capacity int
}

// NewAuditStore creates a ring-buffer audit store with the given capacity.
func NewAuditStore(capacity int) *AuditStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &AuditStore{
		records:  make([]audit.Record, capacity),
		capacity: capacity,
	}
}

// Append stores records in order, overwriting the oldest once full.
func (s *AuditStore) Append(ctx context.Context, records []audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[s.next] = rec
		s.next = (s.next + 1) % s.capacity
		if s.size < s.capacity {
			s.size++
		}
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	out := make([]audit.Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + s.capacity) % s.capacity
		out = append(out, s.records[idx])
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *AuditStore) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)
