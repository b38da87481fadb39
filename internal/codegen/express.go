package codegen

import (
	"bytes"
	"text/template"
)

// expressRenderer emits an Express (Node.js) middleware module.
type expressRenderer struct {
	tmpl *template.Template
}

func newExpressRenderer() *expressRenderer {
	return &expressRenderer{
		tmpl: template.Must(template.New("express").Parse(expressTemplate)),
	}
}

func (r *expressRenderer) Framework() string { return "express" }

func (r *expressRenderer) Render(prog Program) ([]byte, error) {
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

// templateData is the payload shared by all renderer templates.
type templateData struct {
	Version    string
	PolicyJSON string
	Backtick   string
}

const expressTemplate = `// Code generated by tollgate. DO NOT EDIT.
// Express middleware enforcing a tollgate policy (format version {{.Version}}).
//
// Usage:
//   const tollgate = require('./tollgate_middleware');
//   app.use(tollgate({
//     estimatedCost: (req) => 0.01,
//     onDecision: (subjectKey, ruleId, decision, amount, timestamp) => {},
//   }));
'use strict';

// @tollgate:policy:begin
const POLICY = Object.freeze(
{{.PolicyJSON}}
);
// @tollgate:policy:end

// Mutable enforcement state, keyed by "rule:{index}:{subject}".
// Rate windows store recent request timestamps (ms); spending windows store
// { accumulated, windowStart }. Entries are pruned lazily on access.
const rateWindows = new Map();
const spendWindows = new Map();

function stateKey(ruleIndex, subject) {
  return 'state:' + ruleIndex + ':' + subject;
}

function matchPattern(pattern, value) {
  if (pattern.endsWith('*')) {
    return value.startsWith(pattern.slice(0, -1));
  }
  return pattern === value;
}

// Exact literals outrank wildcards; longer literal prefixes outrank shorter.
function specificity(pattern) {
  if (pattern.endsWith('*')) {
    return 2 * (pattern.length - 1);
  }
  return 2 * pattern.length + 1;
}

function attribute(req, field) {
  switch (field) {
    case 'agent_id':
      return req.get('x-agent-id') || '';
    case 'wallet_address':
      return req.get('x-wallet-address') || '';
    case 'ip_address':
      return req.ip || '';
    default:
      return '';
  }
}

function subjectOf(req) {
  return (
    attribute(req, 'agent_id') ||
    attribute(req, 'wallet_address') ||
    attribute(req, 'ip_address') ||
    'anonymous'
  );
}

function rulesOfType(type) {
  return POLICY.rules.filter((r) => r.type === type);
}

// evaluate runs the fixed precedence: denylist, allowlist, rate limit,
// spending cap. Read-only: counters only move in commit().
function evaluate(req, cost, now) {
  const subject = subjectOf(req);

  // Denylist: deny always wins over allow.
  for (const rule of rulesOfType('denylist')) {
    const value = attribute(req, rule.field);
    if (!value) continue;
    for (const pattern of rule.values) {
      if (matchPattern(pattern, value)) {
        return { outcome: 'deny', reason: 'denylisted', ruleIndex: rule.index, subject };
      }
    }
  }

  // Allowlist: attributes governed by a list must match at least one entry.
  let matchedPattern = '';
  let matchedRule = -1;
  for (const field of ['agent_id', 'wallet_address', 'ip_address']) {
    const rules = rulesOfType('allowlist').filter((r) => r.field === field);
    if (rules.length === 0) continue;
    const value = attribute(req, field);
    if (!value) continue;

    let matched = false;
    for (const rule of rules) {
      for (const pattern of rule.values) {
        if (!matchPattern(pattern, value)) continue;
        matched = true;
        if (!matchedPattern || specificity(pattern) > specificity(matchedPattern)) {
          matchedPattern = pattern;
          matchedRule = rule.index;
        }
      }
    }
    if (!matched) {
      return { outcome: 'deny', reason: 'not in allowlist', ruleIndex: rules[0].index, subject };
    }
  }

  // Rate limits: sliding window, pruned lazily.
  for (const rule of rulesOfType('rate_limit')) {
    const key = stateKey(rule.index, subject);
    const windowMs = rule.window_seconds * 1000;
    const instants = (rateWindows.get(key) || []).filter((t) => t > now - windowMs);
    rateWindows.set(key, instants);
    if (instants.length >= rule.max_requests) {
      const oldest = Math.min(...instants);
      const retryAfter = Math.max(0, (oldest + windowMs - now) / 1000);
      return { outcome: 'rate_limited', ruleIndex: rule.index, subject, retryAfter };
    }
  }

  // Spending caps: an expired window reads as zero; reset happens on commit.
  for (const rule of rulesOfType('spending_cap')) {
    const key = stateKey(rule.index, subject);
    const windowMs = rule.window_seconds * 1000;
    const entry = spendWindows.get(key);
    let accumulated = 0;
    if (entry && entry.windowStart + windowMs >= now) {
      accumulated = entry.accumulated;
    }
    if (accumulated + cost > rule.max_amount) {
      return {
        outcome: 'spending_cap_exceeded',
        ruleIndex: rule.index,
        subject,
        spending: {
          current: accumulated,
          limit: rule.max_amount,
          remaining: Math.max(0, rule.max_amount - accumulated),
          currency: rule.currency,
        },
      };
    }
  }

  return { outcome: 'allow', ruleIndex: matchedRule, subject, matchedPattern };
}

// commit records usage after the protected action succeeded.
function commit(subject, cost, now) {
  for (const rule of rulesOfType('rate_limit')) {
    const key = stateKey(rule.index, subject);
    const windowMs = rule.window_seconds * 1000;
    const instants = (rateWindows.get(key) || []).filter((t) => t > now - windowMs);
    instants.push(now);
    rateWindows.set(key, instants);
  }
  for (const rule of rulesOfType('spending_cap')) {
    const key = stateKey(rule.index, subject);
    const windowMs = rule.window_seconds * 1000;
    let entry = spendWindows.get(key);
    if (!entry || entry.windowStart + windowMs < now) {
      entry = { accumulated: 0, windowStart: now };
    }
    entry.accumulated += cost;
    spendWindows.set(key, entry);
  }
}

function tollgate(options = {}) {
  const estimatedCost = options.estimatedCost || (() => 0);
  const onDecision = options.onDecision || (() => {});

  return function tollgateMiddleware(req, res, next) {
    const now = Date.now();
    const cost = estimatedCost(req);
    const decision = evaluate(req, cost, now);

    const ruleId = decision.ruleIndex >= 0 ? 'rule:' + decision.ruleIndex : '';
    const subjectKey =
      decision.ruleIndex >= 0 && decision.outcome !== 'deny'
        ? stateKey(decision.ruleIndex, decision.subject)
        : decision.subject;
    onDecision(subjectKey, ruleId, decision.outcome, cost, new Date(now).toISOString());

    switch (decision.outcome) {
      case 'deny':
        res.status(403).json({ allowed: false, reason: decision.reason });
        return;
      case 'rate_limited':
        res.set('Retry-After', String(Math.ceil(decision.retryAfter)));
        res.status(429).json({
          allowed: false,
          reason: 'rate limited',
          retry_after_seconds: decision.retryAfter,
        });
        return;
      case 'spending_cap_exceeded':
        res.status(402).json({
          allowed: false,
          reason: 'spending cap exceeded',
          spending: decision.spending,
        });
        return;
    }

    // Commit-on-success: charge only after the response completed without
    // a server error.
    res.on('finish', () => {
      if (res.statusCode < 400) {
        commit(decision.subject, cost, Date.now());
      }
    });
    next();
  };
}

module.exports = tollgate;
`
