package codegen

import (
	"bytes"
	"text/template"
)

// echoRenderer emits an Echo (Go) middleware package. The generated file is
// self-contained: it parses the embedded policy JSON at init and carries its
// own state store, so it does not depend on tollgate at runtime.
type echoRenderer struct {
	tmpl *template.Template
}

func newEchoRenderer() *echoRenderer {
	return &echoRenderer{
		tmpl: template.Must(template.New("echo").Parse(echoTemplate)),
	}
}

func (r *echoRenderer) Framework() string { return "echo" }

func (r *echoRenderer) Render(prog Program) ([]byte, error) {
	policyJSON, err := prog.PolicyJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = r.tmpl.Execute(&buf, templateData{
		Version:    prog.Version,
		PolicyJSON: string(policyJSON),
		Backtick:   "`",
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const echoTemplate = `// Code generated by tollgate. DO NOT EDIT.
// Echo middleware enforcing a tollgate policy (format version {{.Version}}).
//
// Usage:
//
//	e := echo.New()
//	e.Use(tollgate.Middleware(tollgate.Options{
//		EstimatedCost: func(c echo.Context) float64 { return 0.01 },
//		OnDecision: func(subjectKey, ruleID, decision string, amount float64, timestamp time.Time) {},
//	}))
package tollgate

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// @tollgate:policy:begin
var policyJSON = []byte({{.Backtick}}
{{.PolicyJSON}}
{{.Backtick}})

// @tollgate:policy:end

type rule struct {
	Index         int      ` + "`json:\"index\"`" + `
	Type          string   ` + "`json:\"type\"`" + `
	Field         string   ` + "`json:\"field,omitempty\"`" + `
	Values        []string ` + "`json:\"values,omitempty\"`" + `
	MaxRequests   uint64   ` + "`json:\"max_requests,omitempty\"`" + `
	WindowSeconds uint64   ` + "`json:\"window_seconds,omitempty\"`" + `
	MaxAmount     float64  ` + "`json:\"max_amount,omitempty\"`" + `
	Currency      string   ` + "`json:\"currency,omitempty\"`" + `
}

type policyDoc struct {
	Version string ` + "`json:\"version\"`" + `
	Rules   []rule ` + "`json:\"rules\"`" + `
}

var compiled policyDoc

func init() {
	if err := json.Unmarshal(policyJSON, &compiled); err != nil {
		panic("tollgate: embedded policy is corrupt: " + err.Error())
	}
}

func rulesOfType(t string) []rule {
	var out []rule
	for _, r := range compiled.Rules {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func matchPattern(pattern, value string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	}
	return pattern == value
}

// Exact literals outrank wildcards; longer literal prefixes outrank shorter.
func specificity(pattern string) int {
	if strings.HasSuffix(pattern, "*") {
		return 2 * (len(pattern) - 1)
	}
	return 2*len(pattern) + 1
}

type spendEntry struct {
	accumulated float64
	windowStart time.Time
}

// stateStore holds the mutable enforcement counters. One mutex serializes
// all read-modify-write sequences; windows are pruned lazily on access.
type stateStore struct {
	mu    sync.Mutex
	rate  map[string][]time.Time
	spend map[string]spendEntry
}

func newStateStore() *stateStore {
	return &stateStore{
		rate:  make(map[string][]time.Time),
		spend: make(map[string]spendEntry),
	}
}

func stateKey(ruleIndex int, subject string) string {
	return "state:" + strconv.Itoa(ruleIndex) + ":" + subject
}

func (s *stateStore) rateStatus(key string, now time.Time, window time.Duration) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	instants := s.pruneLocked(key, now, window)
	var oldest time.Time
	for _, t := range instants {
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return len(instants), oldest
}

func (s *stateStore) appendRequest(key string, now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate[key] = append(s.pruneLocked(key, now, window), now)
}

func (s *stateStore) pruneLocked(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := s.rate[key][:0]
	for _, t := range s.rate[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.rate[key] = kept
	return kept
}

func (s *stateStore) spending(key string, now time.Time, window time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.spend[key]
	if !ok || e.windowStart.Add(window).Before(now) {
		return 0
	}
	return e.accumulated
}

func (s *stateStore) addSpending(key string, now time.Time, window time.Duration, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.spend[key]
	if !ok || e.windowStart.Add(window).Before(now) {
		e = spendEntry{windowStart: now}
	}
	e.accumulated += amount
	s.spend[key] = e
}

type decision struct {
	outcome        string
	reason         string
	ruleIndex      int
	subject        string
	matchedPattern string
	retryAfter     time.Duration
	spending       map[string]interface{}
}

// Options configures the generated middleware.
type Options struct {
	// EstimatedCost prices the protected action. Nil means free.
	EstimatedCost func(c echo.Context) float64
	// OnDecision is the audit hook, called once per decision.
	OnDecision func(subjectKey, ruleID, decision string, amount float64, timestamp time.Time)
}

func attribute(c echo.Context, field string) string {
	switch field {
	case "agent_id":
		return c.Request().Header.Get("X-Agent-ID")
	case "wallet_address":
		return c.Request().Header.Get("X-Wallet-Address")
	case "ip_address":
		return c.RealIP()
	}
	return ""
}

func subjectOf(c echo.Context) string {
	for _, field := range []string{"agent_id", "wallet_address", "ip_address"} {
		if v := attribute(c, field); v != "" {
			return v
		}
	}
	return "anonymous"
}

// evaluate runs the fixed precedence: denylist, allowlist, rate limit,
// spending cap. Read-only: counters only move in commit.
func evaluate(c echo.Context, store *stateStore, cost float64, now time.Time) decision {
	subject := subjectOf(c)

	for _, r := range rulesOfType("denylist") {
		value := attribute(c, r.Field)
		if value == "" {
			continue
		}
		for _, pattern := range r.Values {
			if matchPattern(pattern, value) {
				return decision{outcome: "deny", reason: "denylisted", ruleIndex: r.Index, subject: subject}
			}
		}
	}

	matchedPattern := ""
	matchedRule := -1
	for _, field := range []string{"agent_id", "wallet_address", "ip_address"} {
		var rules []rule
		for _, r := range rulesOfType("allowlist") {
			if r.Field == field {
				rules = append(rules, r)
			}
		}
		if len(rules) == 0 {
			continue
		}
		value := attribute(c, field)
		if value == "" {
			continue
		}

		matched := false
		for _, r := range rules {
			for _, pattern := range r.Values {
				if !matchPattern(pattern, value) {
					continue
				}
				matched = true
				if matchedPattern == "" || specificity(pattern) > specificity(matchedPattern) {
					matchedPattern = pattern
					matchedRule = r.Index
				}
			}
		}
		if !matched {
			return decision{outcome: "deny", reason: "not in allowlist", ruleIndex: rules[0].Index, subject: subject}
		}
	}

	for _, r := range rulesOfType("rate_limit") {
		key := stateKey(r.Index, subject)
		window := time.Duration(r.WindowSeconds) * time.Second
		count, oldest := store.rateStatus(key, now, window)
		if uint64(count) >= r.MaxRequests {
			retry := oldest.Add(window).Sub(now)
			if retry < 0 {
				retry = 0
			}
			return decision{outcome: "rate_limited", ruleIndex: r.Index, subject: subject, retryAfter: retry}
		}
	}

	for _, r := range rulesOfType("spending_cap") {
		key := stateKey(r.Index, subject)
		window := time.Duration(r.WindowSeconds) * time.Second
		accumulated := store.spending(key, now, window)
		if accumulated+cost > r.MaxAmount {
			remaining := r.MaxAmount - accumulated
			if remaining < 0 {
				remaining = 0
			}
			return decision{
				outcome:   "spending_cap_exceeded",
				ruleIndex: r.Index,
				subject:   subject,
				spending: map[string]interface{}{
					"current":   accumulated,
					"limit":     r.MaxAmount,
					"remaining": remaining,
					"currency":  r.Currency,
				},
			}
		}
	}

	return decision{outcome: "allow", ruleIndex: matchedRule, subject: subject, matchedPattern: matchedPattern}
}

// commit records usage after the protected action succeeded.
func commit(store *stateStore, subject string, cost float64, now time.Time) {
	for _, r := range rulesOfType("rate_limit") {
		store.appendRequest(stateKey(r.Index, subject), now, time.Duration(r.WindowSeconds)*time.Second)
	}
	for _, r := range rulesOfType("spending_cap") {
		store.addSpending(stateKey(r.Index, subject), now, time.Duration(r.WindowSeconds)*time.Second, cost)
	}
}

// Middleware returns the enforcement middleware for this policy.
func Middleware(opts Options) echo.MiddlewareFunc {
	store := newStateStore()
	estimatedCost := opts.EstimatedCost
	if estimatedCost == nil {
		estimatedCost = func(echo.Context) float64 { return 0 }
	}
	onDecision := opts.OnDecision
	if onDecision == nil {
		onDecision = func(string, string, string, float64, time.Time) {}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			cost := estimatedCost(c)
			d := evaluate(c, store, cost, now)

			ruleID := ""
			if d.ruleIndex >= 0 {
				ruleID = "rule:" + strconv.Itoa(d.ruleIndex)
			}
			subjectKey := d.subject
			if d.ruleIndex >= 0 && d.outcome != "deny" {
				subjectKey = stateKey(d.ruleIndex, d.subject)
			}
			onDecision(subjectKey, ruleID, d.outcome, cost, now)

			switch d.outcome {
			case "deny":
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"allowed": false, "reason": d.reason,
				})
			case "rate_limited":
				c.Response().Header().Set("Retry-After",
					strconv.Itoa(int(d.retryAfter.Seconds())+1))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"allowed": false, "reason": "rate limited",
					"retry_after_seconds": d.retryAfter.Seconds(),
				})
			case "spending_cap_exceeded":
				return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
					"allowed": false, "reason": "spending cap exceeded",
					"spending": d.spending,
				})
			}

			if err := next(c); err != nil {
				return err
			}
			// Commit-on-success: charge only after a non-error response.
			if c.Response().Status < 400 {
				commit(store, d.subject, cost, time.Now())
			}
			return nil
		}
	}
}
`
