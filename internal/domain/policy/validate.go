package policy

import (
	"fmt"
	"strings"
)

// Bounds for rule parameters.
const (
	// MinWindowSeconds is the smallest permitted window.
	MinWindowSeconds = 1
	// MaxWindowSeconds is the largest permitted window (one year).
	MaxWindowSeconds = 31536000
)

// ValidationError describes a single policy consistency problem. Validation
// collects every error in one pass rather than stopping at the first.
type ValidationError struct {
	// RuleIndex is the declaration index of the offending rule.
	RuleIndex int
	// OtherRuleIndex is the second rule involved in a conflict, or -1.
	OtherRuleIndex int
	// Field is the list field involved, when applicable.
	Field Field
	// Value is the offending value or pattern, when applicable.
	Value string
	// Message describes the problem.
	Message string
	// Suggestion is an actionable fix for the operator.
	Suggestion string
}

func (e ValidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (fix: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// ValidationErrors is the non-empty error list returned by a failed Validate.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(errs), strings.Join(msgs, "; "))
}

// Warning describes a non-fatal finding, such as a duplicate value inside
// one rule. Warnings never block validation.
type Warning struct {
	// RuleIndex is the declaration index of the rule.
	RuleIndex int
	// Message describes the finding.
	Message string
}

// ValidatedPolicy is a Policy that passed Validate. It is immutable and safe
// to share across goroutines without locking; Validate is its only
// constructor.
type ValidatedPolicy struct {
	policy Policy
}

// Version returns the document format version.
func (vp *ValidatedPolicy) Version() string {
	return vp.policy.Version
}

// Rules returns the rules in declaration order. The returned slice is shared
// and must not be mutated.
func (vp *ValidatedPolicy) Rules() []Rule {
	return vp.policy.Rules
}

// Policy returns a copy of the underlying policy, for re-validation or
// serialization.
func (vp *ValidatedPolicy) Policy() Policy {
	rules := make([]Rule, len(vp.policy.Rules))
	copy(rules, vp.policy.Rules)
	return Policy{Version: vp.policy.Version, Rules: rules}
}

// listEntry records where a list value was declared, for conflict reporting.
type listEntry struct {
	ruleIndex int
	value     string
}

// Validate checks a parsed Policy for internal consistency and returns an
// immutable ValidatedPolicy. All errors are collected; the error return is a
// ValidationErrors when non-nil. Warnings are returned separately and never
// block. Validation is pure and deterministic.
func Validate(p *Policy) (*ValidatedPolicy, []Warning, error) {
	var errs ValidationErrors
	var warnings []Warning

	if len(p.Rules) == 0 {
		errs = append(errs, ValidationError{
			RuleIndex:      -1,
			OtherRuleIndex: -1,
			Message:        "policy must contain at least one rule",
			Suggestion:     "add at least one rule to the policies list",
		})
	}

	// Values seen per field, split by list kind, for cross-rule conflict
	// detection.
	allowValues := make(map[Field][]listEntry)
	denyValues := make(map[Field][]listEntry)

	for i, rule := range p.Rules {
		switch r := rule.(type) {
		case Allowlist:
			errs = append(errs, checkListRule(i, r.Field, r.Values, &warnings)...)
			for _, v := range r.Values {
				allowValues[r.Field] = append(allowValues[r.Field], listEntry{ruleIndex: i, value: v})
			}
		case Denylist:
			errs = append(errs, checkListRule(i, r.Field, r.Values, &warnings)...)
			for _, v := range r.Values {
				denyValues[r.Field] = append(denyValues[r.Field], listEntry{ruleIndex: i, value: v})
			}
		case RateLimit:
			if r.MaxRequests < 1 {
				errs = append(errs, ValidationError{
					RuleIndex:      i,
					OtherRuleIndex: -1,
					Message:        fmt.Sprintf("rule %d: max_requests must be >= 1, got %d", i, r.MaxRequests),
					Suggestion:     "set max_requests to a positive count",
				})
			}
			errs = append(errs, checkWindow(i, r.WindowSeconds)...)
		case SpendingCap:
			if r.MaxAmount <= 0 {
				errs = append(errs, ValidationError{
					RuleIndex:      i,
					OtherRuleIndex: -1,
					Message:        fmt.Sprintf("rule %d: max_amount must be > 0, got %g", i, r.MaxAmount),
					Suggestion:     "set max_amount to a positive amount",
				})
			}
			errs = append(errs, checkWindow(i, r.WindowSeconds)...)
		}
	}

	// Conflict detection: the same value in both an allowlist and a denylist
	// for the same field. Deny would always win at evaluation time, so the
	// allowlist entry is dead configuration and almost certainly a mistake.
	for _, field := range KnownFields {
		for _, allow := range allowValues[field] {
			for _, deny := range denyValues[field] {
				if allow.value != deny.value {
					continue
				}
				errs = append(errs, ValidationError{
					RuleIndex:      allow.ruleIndex,
					OtherRuleIndex: deny.ruleIndex,
					Field:          field,
					Value:          allow.value,
					Message: fmt.Sprintf(
						"value %q for field %q appears in both allowlist (rule %d) and denylist (rule %d)",
						allow.value, field, allow.ruleIndex, deny.ruleIndex),
					Suggestion: "remove the value from the denylist or the allowlist",
				})
			}
		}
	}

	if len(errs) > 0 {
		return nil, warnings, errs
	}
	return &ValidatedPolicy{policy: *p}, warnings, nil
}

// checkListRule validates pattern syntax and collects duplicate-value
// warnings for one allowlist or denylist rule.
func checkListRule(index int, field Field, values []string, warnings *[]Warning) ValidationErrors {
	var errs ValidationErrors

	if len(values) == 0 {
		errs = append(errs, ValidationError{
			RuleIndex:      index,
			OtherRuleIndex: -1,
			Field:          field,
			Message:        fmt.Sprintf("rule %d: values must not be empty", index),
			Suggestion:     "list at least one value or pattern",
		})
	}

	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			*warnings = append(*warnings, Warning{
				RuleIndex: index,
				Message:   fmt.Sprintf("rule %d: duplicate value %q", index, v),
			})
		}
		seen[v] = true

		// '*' is permitted only as the trailing character of a pattern.
		if i := strings.IndexByte(v, '*'); i >= 0 && i != len(v)-1 {
			errs = append(errs, ValidationError{
				RuleIndex:      index,
				OtherRuleIndex: -1,
				Field:          field,
				Value:          v,
				Message:        fmt.Sprintf("rule %d: wildcard '*' only allowed as trailing character in %q", index, v),
				Suggestion:     "move the '*' to the end of the pattern",
			})
		}
	}
	return errs
}

// checkWindow validates window_seconds bounds shared by rate limits and
// spending caps.
func checkWindow(index int, windowSeconds uint64) ValidationErrors {
	if windowSeconds < MinWindowSeconds || windowSeconds > MaxWindowSeconds {
		return ValidationErrors{{
			RuleIndex:      index,
			OtherRuleIndex: -1,
			Message: fmt.Sprintf("rule %d: window_seconds must be in [%d, %d], got %d",
				index, MinWindowSeconds, MaxWindowSeconds, windowSeconds),
			Suggestion: "choose a window between one second and one year",
		}}
	}
	return nil
}
