// Package codegen emits framework-native middleware source that reproduces
// the evaluation engine's decision semantics for a validated policy.
package codegen

import (
	"encoding/json"
	"fmt"

	"github.com/toll-gate/tollgate/internal/domain/policy"
)

// Stage names one step of the fixed evaluation precedence.
type Stage string

const (
	// StageDenylist blocks matching subjects. Always first: deny wins.
	StageDenylist Stage = "denylist"
	// StageAllowlist requires presented attributes to match the list.
	StageAllowlist Stage = "allowlist"
	// StageRateLimit enforces sliding-window request counts.
	StageRateLimit Stage = "rate_limit"
	// StageSpendingCap enforces windowed spending accounting.
	StageSpendingCap Stage = "spending_cap"
)

// Step is one (stage, rule) pair of the intermediate representation.
type Step struct {
	// Stage is the evaluation stage the rule runs in.
	Stage Stage
	// RuleIndex is the rule's declaration index in the source policy.
	RuleIndex int
	// Rule is the rule itself.
	Rule policy.Rule
}

// Program is the ordered intermediate representation rendered per target:
// every step of every stage, in the engine's fixed precedence, with
// declaration order preserved inside each stage. Renderers iterate the
// steps; adding a target framework means writing a new renderer over this
// IR, not duplicating the evaluation logic.
type Program struct {
	// Version is the policy document format version.
	Version string
	// Steps are the evaluation steps in precedence order.
	Steps []Step
}

// Compile builds the IR from a validated policy. Output is deterministic:
// the same policy always yields the same step sequence.
func Compile(vp *policy.ValidatedPolicy) Program {
	prog := Program{Version: vp.Version()}
	rules := vp.Rules()

	stageOf := func(r policy.Rule) Stage {
		switch r.(type) {
		case policy.Denylist:
			return StageDenylist
		case policy.Allowlist:
			return StageAllowlist
		case policy.RateLimit:
			return StageRateLimit
		case policy.SpendingCap:
			return StageSpendingCap
		}
		return ""
	}

	for _, stage := range []Stage{StageDenylist, StageAllowlist, StageRateLimit, StageSpendingCap} {
		for i, rule := range rules {
			if stageOf(rule) == stage {
				prog.Steps = append(prog.Steps, Step{Stage: stage, RuleIndex: i, Rule: rule})
			}
		}
	}
	return prog
}

// ruleJSON is the canonical serialized form of one rule, embedded as a
// literal constant in generated code.
type ruleJSON struct {
	Index         int      `json:"index"`
	Type          string   `json:"type"`
	Field         string   `json:"field,omitempty"`
	Values        []string `json:"values,omitempty"`
	MaxRequests   uint64   `json:"max_requests,omitempty"`
	WindowSeconds uint64   `json:"window_seconds,omitempty"`
	MaxAmount     float64  `json:"max_amount,omitempty"`
	Currency      string   `json:"currency,omitempty"`
}

// policyJSON is the canonical serialized policy: version plus rules in
// declaration order.
type policyJSON struct {
	Version string     `json:"version"`
	Rules   []ruleJSON `json:"rules"`
}

// PolicyJSON returns the canonical JSON for the program's rule set, indented
// with two spaces. Rules appear in declaration order regardless of stage
// grouping, so the embedded constant mirrors the source document.
func (p Program) PolicyJSON() ([]byte, error) {
	doc := policyJSON{Version: p.Version, Rules: make([]ruleJSON, 0, len(p.Steps))}

	// Re-sort steps by declaration index for the embedded constant.
	byIndex := make(map[int]Step, len(p.Steps))
	maxIndex := -1
	for _, step := range p.Steps {
		byIndex[step.RuleIndex] = step
		if step.RuleIndex > maxIndex {
			maxIndex = step.RuleIndex
		}
	}
	for i := 0; i <= maxIndex; i++ {
		step, ok := byIndex[i]
		if !ok {
			continue
		}
		rj := ruleJSON{Index: step.RuleIndex, Type: string(step.Rule.Type())}
		switch r := step.Rule.(type) {
		case policy.Allowlist:
			rj.Field = string(r.Field)
			rj.Values = r.Values
		case policy.Denylist:
			rj.Field = string(r.Field)
			rj.Values = r.Values
		case policy.RateLimit:
			rj.MaxRequests = r.MaxRequests
			rj.WindowSeconds = r.WindowSeconds
		case policy.SpendingCap:
			rj.MaxAmount = r.MaxAmount
			rj.Currency = r.Currency
			rj.WindowSeconds = r.WindowSeconds
		}
		doc.Rules = append(doc.Rules, rj)
	}

	return json.MarshalIndent(doc, "", "  ")
}

// DecodePolicyJSON reconstructs a Policy from the canonical JSON embedded in
// generated code. Used to verify codegen fidelity: decoding the embedded
// constant must reproduce the source rule set exactly.
func DecodePolicyJSON(data []byte) (*policy.Policy, error) {
	var doc policyJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode embedded policy: %w", err)
	}

	p := &policy.Policy{Version: doc.Version}
	for _, rj := range doc.Rules {
		switch policy.RuleType(rj.Type) {
		case policy.RuleTypeAllowlist:
			p.Rules = append(p.Rules, policy.Allowlist{Field: policy.Field(rj.Field), Values: rj.Values})
		case policy.RuleTypeDenylist:
			p.Rules = append(p.Rules, policy.Denylist{Field: policy.Field(rj.Field), Values: rj.Values})
		case policy.RuleTypeRateLimit:
			p.Rules = append(p.Rules, policy.RateLimit{MaxRequests: rj.MaxRequests, WindowSeconds: rj.WindowSeconds})
		case policy.RuleTypeSpendingCap:
			p.Rules = append(p.Rules, policy.SpendingCap{MaxAmount: rj.MaxAmount, Currency: rj.Currency, WindowSeconds: rj.WindowSeconds})
		default:
			return nil, fmt.Errorf("decode embedded policy: unknown rule type %q", rj.Type)
		}
	}
	return p, nil
}
