// Package audit contains domain types for decision audit logging.
package audit

import (
	"context"
	"time"
)

// Decision constants for audit records, mirroring policy outcomes.
const (
	// DecisionAllow indicates the request was permitted.
	DecisionAllow = "allow"
	// DecisionDeny indicates the request was blocked by a list rule.
	DecisionDeny = "deny"
	// DecisionRateLimited indicates the request exceeded a rate limit.
	DecisionRateLimited = "rate_limited"
	// DecisionSpendingCapExceeded indicates the request would have
	// exceeded a spending cap.
	DecisionSpendingCapExceeded = "spending_cap_exceeded"
	// DecisionCommit indicates usage was recorded after a successful
	// protected action.
	DecisionCommit = "commit"
)

// Record is one audit entry: which subject hit which rule with what
// decision, and the money involved.
type Record struct {
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
	// RequestID correlates the record with the evaluated request.
	RequestID string `json:"request_id"`
	// SubjectKey is the structured state key ("state:{rule}:{subject}") for
	// stateful rules, or the bare subject for list rules.
	SubjectKey string `json:"subject_key"`
	// RuleID identifies the governing rule ("rule:3"), empty for plain
	// allows.
	RuleID string `json:"rule_id,omitempty"`
	// Decision is one of the Decision* constants.
	Decision string `json:"decision"`
	// Reason explains non-allow decisions.
	Reason string `json:"reason,omitempty"`
	// Amount is the estimated cost attached to the request.
	Amount float64 `json:"amount"`
	// Currency labels Amount when a spending rule governed.
	Currency string `json:"currency,omitempty"`
}

// Store persists audit records. Implementations must be safe for concurrent
// use.
type Store interface {
	// Append persists a batch of records in order.
	Append(ctx context.Context, records []Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Close flushes and releases the store.
	Close() error
}
