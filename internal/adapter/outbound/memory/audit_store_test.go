package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/toll-gate/tollgate/internal/domain/audit"
)

func record(i int) audit.Record {
	return audit.Record{
		Timestamp:  time.Date(2026, time.March, 1, 12, 0, i, 0, time.UTC),
		RequestID:  fmt.Sprintf("req-%d", i),
		SubjectKey: "state:0:agent-7",
		Decision:   audit.DecisionAllow,
	}
}

func TestAuditStore_AppendAndRecent(t *testing.T) {
	t.Parallel()

	s := NewAuditStore(10)
	ctx := context.Background()

	batch := []audit.Record{record(0), record(1), record(2)}
	if err := s.Append(ctx, batch); err != nil {
		t.Fatalf("Append() unexpected error: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].RequestID != "req-2" || got[1].RequestID != "req-1" {
		t.Errorf("Recent order = [%s %s], want [req-2 req-1]", got[0].RequestID, got[1].RequestID)
	}
}

func TestAuditStore_RingOverwritesOldest(t *testing.T) {
	t.Parallel()

	s := NewAuditStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, []audit.Record{record(i)}); err != nil {
			t.Fatalf("Append() unexpected error: %v", err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want capacity 3", s.Len())
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(got))
	}
	want := []string{"req-4", "req-3", "req-2"}
	for i, w := range want {
		if got[i].RequestID != w {
			t.Errorf("Recent[%d] = %s, want %s", i, got[i].RequestID, w)
		}
	}
}

func TestAuditStore_RecentOnEmpty(t *testing.T) {
	t.Parallel()

	s := NewAuditStore(4)
	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(Recent) = %d, want 0", len(got))
	}
}
