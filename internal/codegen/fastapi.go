package codegen

import (
	"bytes"
	"text/template"
)

// fastAPIRenderer emits a FastAPI/Starlette (Python) middleware module.
type fastAPIRenderer struct {
	tmpl *template.Template
}

func newFastAPIRenderer() *fastAPIRenderer {
	return &fastAPIRenderer{
		tmpl: template.Must(template.New("fastapi").Parse(fastAPITemplate)),
	}
}

func (r *fastAPIRenderer) Framework() string { return "fastapi" }

func (r *fastAPIRenderer) Render(prog Program) ([]byte, error) {
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

const fastAPITemplate = `# Code generated by tollgate. DO NOT EDIT.
# FastAPI middleware enforcing a tollgate policy (format version {{.Version}}).
#
# Usage:
#     from tollgate_middleware import TollgateMiddleware
#     app.add_middleware(
#         TollgateMiddleware,
#         estimated_cost=lambda request: 0.01,
#         on_decision=lambda subject_key, rule_id, decision, amount, timestamp: None,
#     )
import threading
import time
from datetime import datetime, timezone

from starlette.middleware.base import BaseHTTPMiddleware
from starlette.responses import JSONResponse

# @tollgate:policy:begin
POLICY = {{.PolicyJSON}}
# @tollgate:policy:end

_FIELDS = ("agent_id", "wallet_address", "ip_address")


def _state_key(rule_index, subject):
    return "state:%d:%s" % (rule_index, subject)


def _match(pattern, value):
    if pattern.endswith("*"):
        return value.startswith(pattern[:-1])
    return pattern == value


def _specificity(pattern):
    # Exact literals outrank wildcards; longer prefixes outrank shorter.
    if pattern.endswith("*"):
        return 2 * (len(pattern) - 1)
    return 2 * len(pattern) + 1


def _rules_of_type(rule_type):
    return [r for r in POLICY["rules"] if r["type"] == rule_type]


class _State:
    """Mutable enforcement state. One lock serializes all read-modify-write
    sequences; windows are pruned lazily on access."""

    def __init__(self):
        self.lock = threading.Lock()
        self.rate_windows = {}
        self.spend_windows = {}

    def rate_status(self, key, now, window):
        with self.lock:
            instants = [t for t in self.rate_windows.get(key, []) if t > now - window]
            self.rate_windows[key] = instants
            oldest = min(instants) if instants else None
            return len(instants), oldest

    def append_request(self, key, now, window):
        with self.lock:
            instants = [t for t in self.rate_windows.get(key, []) if t > now - window]
            instants.append(now)
            self.rate_windows[key] = instants

    def spending(self, key, now, window):
        with self.lock:
            entry = self.spend_windows.get(key)
            if entry is None or entry["window_start"] + window < now:
                return 0.0
            return entry["accumulated"]

    def add_spending(self, key, now, window, amount):
        with self.lock:
            entry = self.spend_windows.get(key)
            if entry is None or entry["window_start"] + window < now:
                entry = {"accumulated": 0.0, "window_start": now}
            entry["accumulated"] += amount
            self.spend_windows[key] = entry


class TollgateMiddleware(BaseHTTPMiddleware):
    def __init__(self, app, estimated_cost=None, on_decision=None):
        super().__init__(app)
        self._estimated_cost = estimated_cost or (lambda request: 0.0)
        self._on_decision = on_decision or (lambda *args: None)
        self._state = _State()

    def _attribute(self, request, field):
        if field == "agent_id":
            return request.headers.get("x-agent-id", "")
        if field == "wallet_address":
            return request.headers.get("x-wallet-address", "")
        if field == "ip_address":
            return request.client.host if request.client else ""
        return ""

    def _subject(self, request):
        for field in _FIELDS:
            value = self._attribute(request, field)
            if value:
                return value
        return "anonymous"

    def _evaluate(self, request, cost, now):
        """Fixed precedence: denylist, allowlist, rate limit, spending cap.
        Read-only; counters only move in _commit."""
        subject = self._subject(request)

        for rule in _rules_of_type("denylist"):
            value = self._attribute(request, rule["field"])
            if not value:
                continue
            if any(_match(p, value) for p in rule["values"]):
                return {"outcome": "deny", "reason": "denylisted",
                        "rule_index": rule["index"], "subject": subject}

        matched_pattern = ""
        matched_rule = -1
        for field in _FIELDS:
            rules = [r for r in _rules_of_type("allowlist") if r["field"] == field]
            if not rules:
                continue
            value = self._attribute(request, field)
            if not value:
                continue

            matched = False
            for rule in rules:
                for pattern in rule["values"]:
                    if not _match(pattern, value):
                        continue
                    matched = True
                    if not matched_pattern or _specificity(pattern) > _specificity(matched_pattern):
                        matched_pattern = pattern
                        matched_rule = rule["index"]
            if not matched:
                return {"outcome": "deny", "reason": "not in allowlist",
                        "rule_index": rules[0]["index"], "subject": subject}

        for rule in _rules_of_type("rate_limit"):
            key = _state_key(rule["index"], subject)
            count, oldest = self._state.rate_status(key, now, rule["window_seconds"])
            if count >= rule["max_requests"]:
                retry_after = max(0.0, oldest + rule["window_seconds"] - now)
                return {"outcome": "rate_limited", "rule_index": rule["index"],
                        "subject": subject, "retry_after": retry_after}

        for rule in _rules_of_type("spending_cap"):
            key = _state_key(rule["index"], subject)
            accumulated = self._state.spending(key, now, rule["window_seconds"])
            if accumulated + cost > rule["max_amount"]:
                return {"outcome": "spending_cap_exceeded",
                        "rule_index": rule["index"], "subject": subject,
                        "spending": {
                            "current": accumulated,
                            "limit": rule["max_amount"],
                            "remaining": max(0.0, rule["max_amount"] - accumulated),
                            "currency": rule["currency"],
                        }}

        return {"outcome": "allow", "rule_index": matched_rule,
                "subject": subject, "matched_pattern": matched_pattern}

    def _commit(self, subject, cost, now):
        for rule in _rules_of_type("rate_limit"):
            key = _state_key(rule["index"], subject)
            self._state.append_request(key, now, rule["window_seconds"])
        for rule in _rules_of_type("spending_cap"):
            key = _state_key(rule["index"], subject)
            self._state.add_spending(key, now, rule["window_seconds"], cost)

    async def dispatch(self, request, call_next):
        now = time.time()
        cost = self._estimated_cost(request)
        decision = self._evaluate(request, cost, now)

        rule_id = "rule:%d" % decision["rule_index"] if decision["rule_index"] >= 0 else ""
        if decision["rule_index"] >= 0 and decision["outcome"] != "deny":
            subject_key = _state_key(decision["rule_index"], decision["subject"])
        else:
            subject_key = decision["subject"]
        timestamp = datetime.fromtimestamp(now, tz=timezone.utc).isoformat()
        self._on_decision(subject_key, rule_id, decision["outcome"], cost, timestamp)

        if decision["outcome"] == "deny":
            return JSONResponse(
                {"allowed": False, "reason": decision["reason"]}, status_code=403)
        if decision["outcome"] == "rate_limited":
            return JSONResponse(
                {"allowed": False, "reason": "rate limited",
                 "retry_after_seconds": decision["retry_after"]},
                status_code=429,
                headers={"Retry-After": str(int(decision["retry_after"]) + 1)})
        if decision["outcome"] == "spending_cap_exceeded":
            return JSONResponse(
                {"allowed": False, "reason": "spending cap exceeded",
                 "spending": decision["spending"]},
                status_code=402)

        response = await call_next(request)
        # Commit-on-success: charge only after a non-error response.
        if response.status_code < 400:
            self._commit(decision["subject"], cost, time.time())
        return response
`
