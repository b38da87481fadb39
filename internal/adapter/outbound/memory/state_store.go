// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"sync"
	"time"

	"github.com/toll-gate/tollgate/internal/domain/state"
)

// StateStore implements state.Store with per-key locking. The outer mutex
// only guards the key maps; each entry carries its own mutex so
// prune/compare/append sequences for one key serialize against each other
// without blocking unrelated keys.
//
// Growth is bounded by pruning on access: rate windows drop instants older
// than the window every time the key is touched, and spending windows reset
// in place. No background sweep runs and entries are never deleted.
type StateStore struct {
	mu    sync.Mutex
	rate  map[state.Key]*rateEntry
	spend map[state.Key]*spendEntry
}

// rateEntry is the ordered multiset of recent request instants for one key.
type rateEntry struct {
	mu       sync.Mutex
	instants []time.Time
}

// spendEntry is the accumulated amount and window start for one key.
type spendEntry struct {
	mu          sync.Mutex
	accumulated float64
	windowStart time.Time
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{
		rate:  make(map[state.Key]*rateEntry),
		spend: make(map[state.Key]*spendEntry),
	}
}

// rateEntryFor returns the rate entry for key, creating it lazily.
func (s *StateStore) rateEntryFor(key state.Key) *rateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rate[key]
	if !ok {
		e = &rateEntry{}
		s.rate[key] = e
	}
	return e
}

// spendEntryFor returns the spending entry for key, creating it lazily.
func (s *StateStore) spendEntryFor(key state.Key) *spendEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.spend[key]
	if !ok {
		e = &spendEntry{}
		s.spend[key] = e
	}
	return e
}

// RateStatus prunes instants older than now-window and returns the surviving
// count and oldest instant.
func (s *StateStore) RateStatus(key state.Key, now time.Time, window time.Duration) state.RateStatus {
	e := s.rateEntryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pruneLocked(now, window)
	return e.statusLocked()
}

// AppendRequest records a request instant in the key's rate window.
func (s *StateStore) AppendRequest(key state.Key, now time.Time, window time.Duration) {
	e := s.rateEntryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pruneLocked(now, window)
	e.instants = append(e.instants, now)
}

// SpendingStatus returns the key's effective accumulated spend. A window
// whose start is further back than the window length reads as zero without
// being reset; the reset happens on the next AddSpending.
func (s *StateStore) SpendingStatus(key state.Key, now time.Time, window time.Duration) state.SpendingStatus {
	e := s.spendEntryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.expiredLocked(now, window) {
		return state.SpendingStatus{Accumulated: 0, WindowStart: e.windowStart}
	}
	return state.SpendingStatus{Accumulated: e.accumulated, WindowStart: e.windowStart}
}

// AddSpending adds amount to the key's window, resetting it first when
// expired or never started.
func (s *StateStore) AddSpending(key state.Key, now time.Time, window time.Duration, amount float64) {
	e := s.spendEntryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.expiredLocked(now, window) {
		e.accumulated = 0
		e.windowStart = now
	}
	e.accumulated += amount
}

// Len returns the number of tracked keys across both counter kinds.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rate) + len(s.spend)
}

// pruneLocked drops instants at or before now-window. Instants may arrive
// out of order when callers pass explicit timestamps, so pruning filters
// rather than trimming a prefix. Must be called with e.mu held.
func (e *rateEntry) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := e.instants[:0]
	for _, t := range e.instants {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	// Zero the tail so pruned instants do not pin memory.
	for i := len(kept); i < len(e.instants); i++ {
		e.instants[i] = time.Time{}
	}
	e.instants = kept
}

// statusLocked returns the surviving count and oldest instant. Must be
// called with e.mu held.
func (e *rateEntry) statusLocked() state.RateStatus {
	st := state.RateStatus{Count: len(e.instants)}
	for _, t := range e.instants {
		if st.Oldest.IsZero() || t.Before(st.Oldest) {
			st.Oldest = t
		}
	}
	return st
}

// expiredLocked reports whether the spending window has elapsed or was
// never started. Must be called with e.mu held.
func (e *spendEntry) expiredLocked(now time.Time, window time.Duration) bool {
	return e.windowStart.IsZero() || e.windowStart.Add(window).Before(now)
}

// Compile-time interface verification.
var _ state.Store = (*StateStore)(nil)
