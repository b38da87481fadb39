// Package audit provides persistent audit stores: JSON Lines files and an
// embedded SQLite database.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

// FileStore implements audit.Store with an append-only JSON Lines file.
// One record per line; writes are buffered and flushed per batch. A small
// in-memory tail serves Recent without re-reading the file.
type FileStore struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	tail   []audit.Record
	tailN  int
	logger *slog.Logger
	closed bool
}

// NewFileStore opens (or creates) the JSONL file at path, creating parent
// directories as needed. tailSize bounds the in-memory tail used by Recent.
func NewFileStore(path string, tailSize int, logger *slog.Logger) (*FileStore, error) {
	if tailSize <= 0 {
		tailSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	tail, err := readTail(path, tailSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	logger.Info("file audit store opened", "path", path, "existing_records", len(tail))
	return &FileStore{
		file:   f,
		writer: bufio.NewWriter(f),
		tail:   tail,
		tailN:  tailSize,
		logger: logger,
	}, nil
}

// readTail loads the last n records from an existing JSONL file so Recent
// covers records written by previous processes. Malformed lines are skipped.
func readTail(path string, n int) ([]audit.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	defer f.Close()

	var tail []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		tail = append(tail, rec)
		if len(tail) > n {
			tail = tail[len(tail)-n:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return tail, nil
}

// Append writes records as JSON lines and flushes.
func (s *FileStore) Append(ctx context.Context, records []audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit file store is closed")
	}

	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		if _, err := s.writer.Write(line); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}

		s.tail = append(s.tail, rec)
		if len(s.tail) > s.tailN {
			s.tail = s.tail[len(s.tail)-s.tailN:]
		}
	}
	return s.writer.Flush()
}

// Recent returns up to limit records from the in-memory tail, newest first.
func (s *FileStore) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
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

// Close flushes buffered writes and closes the file. Safe to call once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush audit file: %w", err)
	}
	return s.file.Close()
}

// Compile-time interface verification.
var _ audit.Store = (*FileStore)(nil)
