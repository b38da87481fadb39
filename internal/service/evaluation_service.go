package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/toll-gate/tollgate/internal/domain/audit"
	"github.com/toll-gate/tollgate/internal/domain/policy"
	"github.com/toll-gate/tollgate/internal/domain/state"
)

// listRule is a denylist or allowlist rule with its declaration index.
type listRule struct {
	index  int
	field  policy.Field
	values []string
}

// rateRule is a rate limit rule with its declaration index.
type rateRule struct {
	index int
	rule  policy.RateLimit
}

// spendRule is a spending cap rule with its declaration index.
type spendRule struct {
	index int
	rule  policy.SpendingCap
}

// policySnapshot is the immutable, stage-indexed view of a validated policy
// stored in atomic.Value. Built once per load/reload; readers never lock.
type policySnapshot struct {
	validated     *policy.ValidatedPolicy
	denies        []listRule
	allowsByField map[policy.Field][]listRule
	rates         []rateRule
	spends        []spendRule
}

// buildSnapshot indexes a validated policy by evaluation stage, preserving
// declaration order inside each stage.
func buildSnapshot(vp *policy.ValidatedPolicy) *policySnapshot {
	snap := &policySnapshot{
		validated:     vp,
		allowsByField: make(map[policy.Field][]listRule),
	}
	for i, rule := range vp.Rules() {
		switch r := rule.(type) {
		case policy.Denylist:
			snap.denies = append(snap.denies, listRule{index: i, field: r.Field, values: r.Values})
		case policy.Allowlist:
			snap.allowsByField[r.Field] = append(snap.allowsByField[r.Field],
				listRule{index: i, field: r.Field, values: r.Values})
		case policy.RateLimit:
			snap.rates = append(snap.rates, rateRule{index: i, rule: r})
		case policy.SpendingCap:
			snap.spends = append(snap.spends, spendRule{index: i, rule: r})
		}
	}
	return snap
}

// EvaluationService implements policy.Engine. Evaluation follows the fixed
// precedence denylist, allowlist, rate limit, spending cap, stopping at the
// first non-allow outcome. The policy snapshot lives in an atomic.Value for
// lock-free reads; Reload swaps the whole snapshot so in-flight evaluations
// keep whichever policy they already hold.
type EvaluationService struct {
	store    state.Store
	logger   *slog.Logger
	auditSvc *AuditService
	snapshot atomic.Value // stores *policySnapshot
	mu       sync.Mutex   // only for Reload writes
	cache    *listCache
}

// EvaluationOption configures EvaluationService.
type EvaluationOption func(*EvaluationService)

// WithCacheSize sets the maximum number of cached list-stage outcomes.
func WithCacheSize(size int) EvaluationOption {
	return func(s *EvaluationService) {
		s.cache = newListCache(size)
	}
}

// WithAuditService attaches an audit service; every decision and commit is
// then recorded asynchronously.
func WithAuditService(auditSvc *AuditService) EvaluationOption {
	return func(s *EvaluationService) {
		s.auditSvc = auditSvc
	}
}

// NewEvaluationService creates an engine over a validated policy and a state
// store. The store is owned by the caller (the composition root) so multiple
// independent engines can coexist.
func NewEvaluationService(vp *policy.ValidatedPolicy, store state.Store, logger *slog.Logger, opts ...EvaluationOption) *EvaluationService {
	s := &EvaluationService{
		store:  store,
		logger: logger,
		cache:  newListCache(1000),
	}
	for _, opt := range opts {
		opt(s)
	}

	snap := buildSnapshot(vp)
	s.snapshot.Store(snap)

	logger.Info("evaluation service initialized",
		"rules", len(vp.Rules()),
		"denylists", len(snap.denies),
		"allowlist_fields", len(snap.allowsByField),
		"rate_limits", len(snap.rates),
		"spending_caps", len(snap.spends),
	)
	return s
}

// Reload atomically replaces the policy. In-flight evaluations continue
// against the snapshot they already loaded.
func (s *EvaluationService) Reload(vp *policy.ValidatedPolicy) {
	snap := buildSnapshot(vp)

	s.mu.Lock()
	s.snapshot.Store(snap)
	s.mu.Unlock()

	// List outcomes cached under the old policy are stale.
	s.cache.Clear()

	s.logger.Info("policy reloaded", "rules", len(vp.Rules()))
}

// loadSnapshot returns the current snapshot atomically (lock-free).
func (s *EvaluationService) loadSnapshot() *policySnapshot {
	return s.snapshot.Load().(*policySnapshot)
}

// Evaluate produces a Decision for the request without recording usage.
// Rate windows are pruned lazily as a side effect of reading them; counters
// only move on Commit, so rejected requests are never charged.
func (s *EvaluationService) Evaluate(ctx context.Context, req policy.Request) policy.Decision {
	snap := s.loadSnapshot()
	now := req.Time()
	subject := req.Subject()

	decision := s.evaluate(snap, req, now, subject)
	s.recordDecision(req, now, subject, decision)
	return decision
}

func (s *EvaluationService) evaluate(snap *policySnapshot, req policy.Request, now time.Time, subject string) policy.Decision {
	lists := s.listStage(snap, req)
	if lists.blocked != nil {
		return policy.Decision{
			Outcome:   policy.OutcomeDeny,
			Reason:    lists.blocked.reason,
			RuleIndex: lists.blocked.ruleIndex,
		}
	}

	// Rate limit stage.
	for _, rr := range snap.rates {
		key := state.Key{RuleIndex: rr.index, Subject: subject}
		window := rr.rule.Window()
		st := s.store.RateStatus(key, now, window)
		if uint64(st.Count) >= rr.rule.MaxRequests {
			return policy.Decision{
				Outcome:    policy.OutcomeRateLimited,
				Reason:     fmt.Sprintf("rate limit of %d per %ds exceeded", rr.rule.MaxRequests, rr.rule.WindowSeconds),
				RuleIndex:  rr.index,
				RetryAfter: st.RetryAfter(now, window),
			}
		}
	}

	// Spending cap stage. An expired window reads as zero spend; the reset
	// itself happens on commit.
	for _, sr := range snap.spends {
		key := state.Key{RuleIndex: sr.index, Subject: subject}
		st := s.store.SpendingStatus(key, now, sr.rule.Window())
		if st.Accumulated+req.EstimatedCost > sr.rule.MaxAmount {
			remaining := sr.rule.MaxAmount - st.Accumulated
			if remaining < 0 {
				remaining = 0
			}
			return policy.Decision{
				Outcome:   policy.OutcomeSpendingCapExceeded,
				Reason:    fmt.Sprintf("spending cap of %g %s per %ds exceeded", sr.rule.MaxAmount, sr.rule.Currency, sr.rule.WindowSeconds),
				RuleIndex: sr.index,
				Spending: &policy.SpendingStatus{
					Current:   st.Accumulated,
					Limit:     sr.rule.MaxAmount,
					Remaining: remaining,
					Currency:  sr.rule.Currency,
				},
			}
		}
	}

	d := policy.AllowDecision()
	d.MatchedPattern = lists.matchedPattern
	if lists.matchedRule >= 0 {
		d.RuleIndex = lists.matchedRule
	}
	return d
}

// listStage runs the denylist and allowlist checks, consulting the LRU cache
// first. Deny always wins over allow.
func (s *EvaluationService) listStage(snap *policySnapshot, req policy.Request) listOutcome {
	key := subjectCacheKey(req.AgentID, req.WalletAddress, req.IPAddress)
	if outcome, ok := s.cache.Get(key); ok {
		return outcome
	}

	outcome := listOutcome{matchedRule: -1}

	// Denylist: first match blocks, in declaration order. A rule only
	// applies when the request presents the attribute.
	for _, deny := range snap.denies {
		attr := req.Attribute(deny.field)
		if attr == "" {
			continue
		}
		for _, pattern := range deny.values {
			if policy.Match(pattern, attr) {
				outcome.blocked = &blockedList{ruleIndex: deny.index, reason: policy.ReasonDenylisted}
				s.cache.Put(key, outcome)
				return outcome
			}
		}
	}

	// Allowlist: when any allowlist governs an attribute the request
	// presents, the value must match at least one entry across the rules
	// for that field. The most specific matching pattern (longest literal
	// prefix, exact beats wildcard) is recorded for downstream pricing.
	if outcome.blocked == nil {
		for _, field := range policy.KnownFields {
			rules := snap.allowsByField[field]
			if len(rules) == 0 {
				continue
			}
			attr := req.Attribute(field)
			if attr == "" {
				continue
			}

			matched := false
			for _, rule := range rules {
				if pattern, ok := policy.MostSpecific(rule.values, attr); ok {
					matched = true
					if better(pattern, outcome.matchedPattern) {
						outcome.matchedPattern = pattern
						outcome.matchedRule = rule.index
					}
				}
			}
			if !matched {
				outcome.blocked = &blockedList{ruleIndex: rules[0].index, reason: policy.ReasonNotInAllowlist}
				outcome.matchedPattern = ""
				outcome.matchedRule = -1
				break
			}
		}
	}

	s.cache.Put(key, outcome)
	return outcome
}

// better reports whether candidate is a more specific pattern than current.
func better(candidate, current string) bool {
	if current == "" {
		return true
	}
	return specificity(candidate) > specificity(current)
}

// specificity scores a pattern: exact literals outrank wildcards, longer
// literal prefixes outrank shorter ones.
func specificity(pattern string) int {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		return 2 * (len(pattern) - 1)
	}
	return 2*len(pattern) + 1
}

// Commit records the request against every rate and spending window, after
// the protected action completed successfully. Callers invoke it at most
// once per accepted request.
func (s *EvaluationService) Commit(ctx context.Context, req policy.Request) {
	snap := s.loadSnapshot()
	now := req.Time()
	subject := req.Subject()

	for _, rr := range snap.rates {
		key := state.Key{RuleIndex: rr.index, Subject: subject}
		s.store.AppendRequest(key, now, rr.rule.Window())
	}
	for _, sr := range snap.spends {
		key := state.Key{RuleIndex: sr.index, Subject: subject}
		s.store.AddSpending(key, now, sr.rule.Window(), req.EstimatedCost)
	}

	if s.auditSvc != nil {
		s.auditSvc.Record(audit.Record{
			Timestamp:  now,
			RequestID:  uuid.New().String(),
			SubjectKey: subject,
			Decision:   audit.DecisionCommit,
			Amount:     req.EstimatedCost,
		})
	}
}

// StateKeys returns the number of tracked state keys, for monitoring.
func (s *EvaluationService) StateKeys() int {
	return s.store.Len()
}

// recordDecision emits an audit record for a decision when an audit service
// is attached. Emission is asynchronous and never blocks evaluation.
func (s *EvaluationService) recordDecision(req policy.Request, now time.Time, subject string, d policy.Decision) {
	if s.auditSvc == nil {
		return
	}

	rec := audit.Record{
		Timestamp:  now,
		RequestID:  uuid.New().String(),
		SubjectKey: subject,
		Reason:     d.Reason,
		Amount:     req.EstimatedCost,
	}
	if d.RuleIndex >= 0 {
		rec.RuleID = fmt.Sprintf("rule:%d", d.RuleIndex)
	}

	switch d.Outcome {
	case policy.OutcomeAllow:
		rec.Decision = audit.DecisionAllow
	case policy.OutcomeDeny:
		rec.Decision = audit.DecisionDeny
	case policy.OutcomeRateLimited:
		rec.Decision = audit.DecisionRateLimited
		rec.SubjectKey = state.Key{RuleIndex: d.RuleIndex, Subject: subject}.String()
	case policy.OutcomeSpendingCapExceeded:
		rec.Decision = audit.DecisionSpendingCapExceeded
		rec.SubjectKey = state.Key{RuleIndex: d.RuleIndex, Subject: subject}.String()
		if d.Spending != nil {
			rec.Currency = d.Spending.Currency
		}
	}

	s.auditSvc.Record(rec)
}

// Compile-time interface verification.
var _ policy.Engine = (*EvaluationService)(nil)
