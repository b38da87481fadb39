// Package state contains domain types for rate-limit and spending counters.
package state

import (
	"fmt"
	"time"
)

// Key identifies one counter: a rule (by declaration index) applied to one
// subject.
type Key struct {
	// RuleIndex is the governing rule's declaration index in the policy.
	RuleIndex int
	// Subject is the identity the counter tracks (agent id, wallet, or IP).
	Subject string
}

// String returns a structured key of the form "state:{rule}:{subject}",
// used as the subject key in audit records and generated code.
func (k Key) String() string {
	return fmt.Sprintf("state:%d:%s", k.RuleIndex, k.Subject)
}

// RateStatus is a point-in-time view of one sliding rate window.
type RateStatus struct {
	// Count is the number of committed requests still inside the window.
	Count int
	// Oldest is the oldest surviving request instant. Zero when Count == 0.
	Oldest time.Time
}

// RetryAfter returns how long until the oldest surviving request leaves the
// window, which is when the next request could pass.
func (s RateStatus) RetryAfter(now time.Time, window time.Duration) time.Duration {
	if s.Count == 0 {
		return 0
	}
	retry := s.Oldest.Add(window).Sub(now)
	if retry < 0 {
		return 0
	}
	return retry
}

// SpendingStatus is a point-in-time view of one spending window.
type SpendingStatus struct {
	// Accumulated is the spend recorded in the current window. Zero when the
	// window has expired (the stored amount is ignored until the next
	// commit resets it).
	Accumulated float64
	// WindowStart is when the current window began. Zero when no spend has
	// been committed yet.
	WindowStart time.Time
}

// Store holds mutable rate and spending counters keyed by Key. Entries are
// created lazily on first access and pruned in place whenever the key is
// next touched; implementations must serialize all read-modify-write
// sequences for a single key.
type Store interface {
	// RateStatus prunes entries older than now-window and returns the
	// surviving count and oldest instant.
	RateStatus(key Key, now time.Time, window time.Duration) RateStatus

	// AppendRequest records a request instant in the key's rate window,
	// pruning stale entries first.
	AppendRequest(key Key, now time.Time, window time.Duration)

	// SpendingStatus returns the key's effective accumulated spend. An
	// expired window reads as zero; the actual reset happens in AddSpending.
	SpendingStatus(key Key, now time.Time, window time.Duration) SpendingStatus

	// AddSpending adds amount to the key's window, first resetting the
	// window (amount 0, start now) when it has expired or was never started.
	AddSpending(key Key, now time.Time, window time.Duration, amount float64)

	// Len returns the number of tracked keys, for monitoring.
	Len() int
}
