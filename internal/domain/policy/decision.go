package policy

import (
	"encoding/json"
	"time"
)

// Outcome classifies a Decision.
type Outcome string

const (
	// OutcomeAllow permits the request.
	OutcomeAllow Outcome = "allow"
	// OutcomeDeny blocks the request (denylisted or not in allowlist).
	OutcomeDeny Outcome = "deny"
	// OutcomeRateLimited blocks the request until the window frees up.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeSpendingCapExceeded blocks the request because the estimated
	// cost would push the window's accumulated spend over the cap.
	OutcomeSpendingCapExceeded Outcome = "spending_cap_exceeded"
)

// Deny reasons produced by the evaluation engine.
const (
	// ReasonDenylisted means a denylist rule matched the request.
	ReasonDenylisted = "denylisted"
	// ReasonNotInAllowlist means an allowlist rule governed an attribute
	// and nothing on the list matched.
	ReasonNotInAllowlist = "not in allowlist"
)

// SpendingStatus reports window accounting for a spending-cap decision.
type SpendingStatus struct {
	// Current is the amount already accumulated in the window.
	Current float64 `json:"current"`
	// Limit is the rule's MaxAmount.
	Limit float64 `json:"limit"`
	// Remaining is Limit - Current, floored at zero.
	Remaining float64 `json:"remaining"`
	// Currency labels the amounts.
	Currency string `json:"currency,omitempty"`
}

// Decision is the outcome of evaluating one request against a validated
// policy. Deny, RateLimited, and SpendingCapExceeded are expected business
// outcomes, not errors.
type Decision struct {
	// Outcome classifies the decision.
	Outcome Outcome
	// Reason explains a non-allow outcome in one short phrase.
	Reason string
	// RuleIndex is the declaration index of the governing rule, or -1 when
	// no single rule governed (plain Allow).
	RuleIndex int
	// MatchedPattern is the most specific allowlist pattern that matched,
	// for downstream pricing or routing tied to the rule. Empty unless an
	// allowlist governed the request.
	MatchedPattern string
	// RetryAfter is how long until the subject's next request can pass.
	// Only meaningful for OutcomeRateLimited.
	RetryAfter time.Duration
	// Spending reports window accounting. Only set for
	// OutcomeSpendingCapExceeded.
	Spending *SpendingStatus
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Diagnostic is the serializable form of a Decision for CLI/JSON consumers.
type Diagnostic struct {
	Allowed    bool            `json:"allowed"`
	Reason     string          `json:"reason,omitempty"`
	RetryAfter *float64        `json:"retry_after_seconds,omitempty"`
	Spending   *SpendingStatus `json:"spending,omitempty"`
}

// Diagnostic converts the decision to its serializable form.
func (d Decision) Diagnostic() Diagnostic {
	diag := Diagnostic{
		Allowed:  d.Allowed(),
		Reason:   d.Reason,
		Spending: d.Spending,
	}
	if d.Outcome == OutcomeRateLimited {
		secs := d.RetryAfter.Seconds()
		diag.RetryAfter = &secs
	}
	return diag
}

// MarshalJSON serializes the decision in its diagnostic form.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Diagnostic())
}

// AllowDecision returns a plain Allow with no governing rule.
func AllowDecision() Decision {
	return Decision{Outcome: OutcomeAllow, RuleIndex: -1}
}
