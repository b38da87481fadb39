package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

// WriterStore implements audit.Store over any io.Writer, one JSON line per
// record. Used for the "stdout" audit sink. Recent serves from a bounded
// in-memory tail; nothing is read back from the writer.
type WriterStore struct {
	mu    sync.Mutex
	w     io.Writer
	tail  []audit.Record
	tailN int
}

// NewWriterStore creates a writer-backed audit store. tailSize bounds the
// in-memory tail used by Recent.
func NewWriterStore(w io.Writer, tailSize int) *WriterStore {
	if tailSize <= 0 {
		tailSize = 1000
	}
	return &WriterStore{w: w, tailN: tailSize}
}

// Append writes records as JSON lines.
func (s *WriterStore) Append(ctx context.Context, records []audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		s.tail = append(s.tail, rec)
		if len(s.tail) > s.tailN {
			s.tail = s.tail[len(s.tail)-s.tailN:]
		}
	}
	return nil
}

// Recent returns up to limit records from the in-memory tail, newest first.
func (s *WriterStore) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.tail) {
		limit = len(s.tail)
	}
	out := make([]audit.Record, 0, limit)
	for i := len(s.tail) - 1; i >= len(s.tail)-limit; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

// Close is a no-op; the writer is owned by the caller.
func (s *WriterStore) Close() error {
	return nil
}

// Compile-time interface verification.
var _ audit.Store = (*WriterStore)(nil)
