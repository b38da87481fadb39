package policy

import "context"

// Engine evaluates requests against a validated policy and commits usage
// after the protected action succeeds.
type Engine interface {
	// Evaluate produces a Decision for the request. It is read-only with
	// respect to rate/spending counters (aside from lazy pruning) and never
	// returns an error for normal business outcomes.
	Evaluate(ctx context.Context, req Request) Decision

	// Commit records the request against rate and spending windows. Callers
	// invoke it at most once per accepted request, only after the protected
	// action completed successfully.
	Commit(ctx context.Context, req Request)
}
