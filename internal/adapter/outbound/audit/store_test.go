package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecord(i int) audit.Record {
	return audit.Record{
		Timestamp:  time.Date(2026, time.March, 1, 12, 0, i, 0, time.UTC),
		RequestID:  fmt.Sprintf("req-%d", i),
		SubjectKey: "state:1:agent-7",
		RuleID:     "rule:1",
		Decision:   audit.DecisionRateLimited,
		Reason:     "rate limit of 100 per 60s exceeded",
		Amount:     0.05,
		Currency:   "USD",
	}
}

func TestFileStore_AppendAndRecent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	store, err := NewFileStore(path, 10, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() unexpected error: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Append(ctx, []audit.Record{sampleRecord(0), sampleRecord(1)}); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(recent))
	}
	if recent[0].RequestID != "req-1" {
		t.Errorf("Recent[0] = %s, want req-1 (newest first)", recent[0].RequestID)
	}

	// The file holds one valid JSON object per line.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() unexpected error: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var rec audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("file has %d lines, want 2", lines)
	}
}

func TestFileStore_ReopenLoadsTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	first, err := NewFileStore(path, 10, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() unexpected error: %v", err)
	}
	if err := first.Append(ctx, []audit.Record{sampleRecord(0), sampleRecord(1)}); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	second, err := NewFileStore(path, 10, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() reopen error: %v", err)
	}
	defer second.Close()

	recent, err := second.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(Recent) after reopen = %d, want 2", len(recent))
	}
	if recent[0].RequestID != "req-1" || recent[1].RequestID != "req-0" {
		t.Errorf("Recent after reopen = [%s %s], want [req-1 req-0]",
			recent[0].RequestID, recent[1].RequestID)
	}
}

func TestFileStore_AppendAfterClose(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "audit.jsonl"), 10, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() unexpected error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := store.Append(context.Background(), []audit.Record{sampleRecord(0)}); err == nil {
		t.Error("Append() after Close expected error, got nil")
	}
	// Close twice is fine.
	if err := store.Close(); err != nil {
		t.Errorf("second Close() unexpected error: %v", err)
	}
}

func TestSQLiteStore_AppendAndRecent(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore() unexpected error: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var batch []audit.Record
	for i := 0; i < 5; i++ {
		batch = append(batch, sampleRecord(i))
	}
	if err := store.Append(ctx, batch); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}

	recent, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(recent))
	}
	if recent[0].RequestID != "req-4" || recent[2].RequestID != "req-2" {
		t.Errorf("Recent order = [%s .. %s], want [req-4 .. req-2]",
			recent[0].RequestID, recent[2].RequestID)
	}

	// Round trip preserves every field.
	got := recent[0]
	want := sampleRecord(4)
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	got.Timestamp = want.Timestamp
	if got != want {
		t.Errorf("Recent[0] = %+v, want %+v", got, want)
	}
}

func TestSQLiteStore_EmptyRecent(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore() unexpected error: %v", err)
	}
	defer store.Close()

	recent, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("len(Recent) = %d, want 0", len(recent))
	}
}

func TestWriterStore_AppendAndRecent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	store := NewWriterStore(&buf, 10)
	ctx := context.Background()

	if err := store.Append(ctx, []audit.Record{sampleRecord(0), sampleRecord(1)}); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("wrote %d lines, want 2", lines)
	}

	recent, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(recent) != 1 || recent[0].RequestID != "req-1" {
		t.Errorf("Recent = %+v, want [req-1]", recent)
	}
}
