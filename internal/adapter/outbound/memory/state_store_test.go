package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/toll-gate/tollgate/internal/domain/state"
)

var base = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestStateStore_SlidingRateWindow(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	key := state.Key{RuleIndex: 2, Subject: "agent-7"}
	window := 60 * time.Second

	if st := s.RateStatus(key, base, window); st.Count != 0 {
		t.Fatalf("Count = %d, want 0 before any commit", st.Count)
	}

	s.AppendRequest(key, base, window)
	s.AppendRequest(key, base.Add(10*time.Second), window)
	s.AppendRequest(key, base.Add(20*time.Second), window)

	st := s.RateStatus(key, base.Add(25*time.Second), window)
	if st.Count != 3 {
		t.Errorf("Count = %d, want 3 inside the window", st.Count)
	}
	if !st.Oldest.Equal(base) {
		t.Errorf("Oldest = %v, want %v", st.Oldest, base)
	}

	// 61 seconds after the first instant, it has slid out; the other two
	// survive.
	st = s.RateStatus(key, base.Add(61*time.Second), window)
	if st.Count != 2 {
		t.Errorf("Count = %d, want 2 after the window slid", st.Count)
	}
	if !st.Oldest.Equal(base.Add(10 * time.Second)) {
		t.Errorf("Oldest = %v, want %v", st.Oldest, base.Add(10*time.Second))
	}

	// Far future: everything pruned.
	if st := s.RateStatus(key, base.Add(time.Hour), window); st.Count != 0 {
		t.Errorf("Count = %d, want 0 after all instants expired", st.Count)
	}
}

func TestStateStore_RateBoundaryIsExclusive(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	key := state.Key{RuleIndex: 0, Subject: "a"}
	window := 60 * time.Second

	s.AppendRequest(key, base, window)

	// Exactly window later the instant is no longer inside: pruning keeps
	// only instants strictly after now-window.
	if st := s.RateStatus(key, base.Add(window), window); st.Count != 0 {
		t.Errorf("Count = %d at exact boundary, want 0", st.Count)
	}
}

func TestStateStore_OutOfOrderInstants(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	key := state.Key{RuleIndex: 0, Subject: "a"}
	window := 60 * time.Second

	// Explicit timestamps can arrive out of order.
	s.AppendRequest(key, base.Add(30*time.Second), window)
	s.AppendRequest(key, base.Add(5*time.Second), window)
	s.AppendRequest(key, base.Add(50*time.Second), window)

	st := s.RateStatus(key, base.Add(55*time.Second), window)
	if st.Count != 3 {
		t.Fatalf("Count = %d, want 3", st.Count)
	}
	if !st.Oldest.Equal(base.Add(5 * time.Second)) {
		t.Errorf("Oldest = %v, want %v", st.Oldest, base.Add(5*time.Second))
	}

	// now-window = base+10s: only the middle instant drops.
	st = s.RateStatus(key, base.Add(70*time.Second), window)
	if st.Count != 2 {
		t.Errorf("Count = %d, want 2 after pruning the out-of-order instant", st.Count)
	}
}

func TestStateStore_RetryAfter(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	key := state.Key{RuleIndex: 1, Subject: "agent-7"}
	window := 60 * time.Second

	s.AppendRequest(key, base, window)
	now := base.Add(15 * time.Second)
	st := s.RateStatus(key, now, window)

	if got := st.RetryAfter(now, window); got != 45*time.Second {
		t.Errorf("RetryAfter = %v, want 45s", got)
	}
	if got := (state.RateStatus{}).RetryAfter(now, window); got != 0 {
		t.Errorf("RetryAfter on empty status = %v, want 0", got)
	}
}

func TestStateStore_SpendingAccumulates(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	key := state.Key{RuleIndex: 3, Subject: "wallet-1"}
	window := 24 * time.Hour

	if st := s.SpendingStatus(key, base, window); st.Accumulated != 0 {
		t.Fatalf("Accumulated = %v, want 0 before any commit", st.Accumulated)
	}

	s.AddSpending(key, base, window, 1.25)
	s.AddSpending(key, base.Add(time.Hour), window, 2.75)

	st := s.SpendingStatus(key, base.Add(2*time.Hour), window)
	if st.Accumulated != 4 {
		t.Errorf("Accumulated = %v, want 4", st.Accumulated)
	}
	if !st.WindowStart.Equal(base) {
		t.Errorf("WindowStart = %v, want %v (first commit)", st.WindowStart, base)
	}
}

func TestStateStore_SpendingWindowExpiry(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	key := state.Key{RuleIndex: 3, Subject: "wallet-1"}
	window := time.Hour

	s.AddSpending(key, base, window, 5)

	// Expired window reads as zero without resetting the stored state.
	expired := base.Add(2 * time.Hour)
	if st := s.SpendingStatus(key, expired, window); st.Accumulated != 0 {
		t.Errorf("Accumulated = %v after expiry, want 0", st.Accumulated)
	}

	// The next commit resets the window to start at its own timestamp.
	s.AddSpending(key, expired, window, 1.5)
	st := s.SpendingStatus(key, expired, window)
	if st.Accumulated != 1.5 {
		t.Errorf("Accumulated = %v after reset, want 1.5", st.Accumulated)
	}
	if !st.WindowStart.Equal(expired) {
		t.Errorf("WindowStart = %v, want %v", st.WindowStart, expired)
	}
}

func TestStateStore_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	window := 60 * time.Second
	a := state.Key{RuleIndex: 0, Subject: "a"}
	b := state.Key{RuleIndex: 0, Subject: "b"}
	sameSubjectOtherRule := state.Key{RuleIndex: 1, Subject: "a"}

	s.AppendRequest(a, base, window)
	s.AppendRequest(a, base, window)

	if st := s.RateStatus(b, base, window); st.Count != 0 {
		t.Errorf("other subject Count = %d, want 0", st.Count)
	}
	if st := s.RateStatus(sameSubjectOtherRule, base, window); st.Count != 0 {
		t.Errorf("other rule Count = %d, want 0", st.Count)
	}
	if st := s.RateStatus(a, base, window); st.Count != 2 {
		t.Errorf("Count = %d, want 2", st.Count)
	}
}

func TestStateStore_Len(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	window := time.Minute

	s.AppendRequest(state.Key{RuleIndex: 0, Subject: "a"}, base, window)
	s.AppendRequest(state.Key{RuleIndex: 0, Subject: "a"}, base, window)
	s.AddSpending(state.Key{RuleIndex: 1, Subject: "a"}, base, window, 1)

	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}

	// Reads also create entries lazily.
	s.RateStatus(state.Key{RuleIndex: 0, Subject: "b"}, base, window)
	if got := s.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestStateStore_ConcurrentCommits(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	window := time.Hour
	key := state.Key{RuleIndex: 0, Subject: "shared"}
	spendKey := state.Key{RuleIndex: 1, Subject: "shared"}

	const goroutines = 16
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				now := base.Add(time.Duration(g*perGoroutine+i) * time.Millisecond)
				s.AppendRequest(key, now, window)
				s.AddSpending(spendKey, now, window, 0.5)
				s.RateStatus(key, now, window)
				s.SpendingStatus(spendKey, now, window)
			}
		}(g)
	}
	wg.Wait()

	now := base.Add(time.Second)
	if st := s.RateStatus(key, now, window); st.Count != goroutines*perGoroutine {
		t.Errorf("Count = %d, want %d", st.Count, goroutines*perGoroutine)
	}
	want := 0.5 * goroutines * perGoroutine
	if st := s.SpendingStatus(spendKey, now, window); st.Accumulated != want {
		t.Errorf("Accumulated = %v, want %v", st.Accumulated, want)
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	key := state.Key{RuleIndex: 2, Subject: "agent-7"}
	if got := key.String(); got != "state:2:agent-7" {
		t.Errorf("String() = %q, want %q", got, "state:2:agent-7")
	}
}
