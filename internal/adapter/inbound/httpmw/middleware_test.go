package httpmw

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/toll-gate/tollgate/internal/adapter/outbound/memory"
	"github.com/toll-gate/tollgate/internal/domain/policy"
	"github.com/toll-gate/tollgate/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, policyYAML string) *service.EvaluationService {
	t.Helper()

	p, err := policy.Parse([]byte(policyYAML))
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	vp, _, err := policy.Validate(p)
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	return service.NewEvaluationService(vp, memory.NewStateStore(), testLogger())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestMiddleware_DenyReturns403(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, `version: "1"
policies:
  - type: denylist
    field: agent_id
    values: ["bad"]
`)
	handler := Middleware(engine, Config{Logger: testLogger()})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAgentID, "bad")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var diag policy.Diagnostic
	if err := json.Unmarshal(rec.Body.Bytes(), &diag); err != nil {
		t.Fatalf("body is not a diagnostic: %v", err)
	}
	if diag.Allowed || diag.Reason != policy.ReasonDenylisted {
		t.Errorf("diagnostic = %+v, want denylisted", diag)
	}
}

func TestMiddleware_RateLimitReturns429WithRetryAfter(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, `version: "1"
policies:
  - type: rate_limit
    max_requests: 1
    window_seconds: 60
`)
	handler := Middleware(engine, Config{Logger: testLogger()})(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.Header.Set(HeaderAgentID, "agent-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.Header.Set(HeaderAgentID, "agent-7")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After = %q, want an integer", rec.Header().Get("Retry-After"))
	}
	if retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %d, want in [1, 60]", retry)
	}
}

func TestMiddleware_SpendingCapReturns402(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, `version: "1"
policies:
  - type: spending_cap
    max_amount: 1.00
    currency: "USD"
    window_seconds: 3600
`)
	cfg := Config{
		Logger:        testLogger(),
		EstimatedCost: func(*http.Request) float64 { return 0.60 },
	}
	handler := Middleware(engine, cfg)(okHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/charge", nil)
		req.Header.Set(HeaderWalletAddress, "0xabc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("second request status = %d, want 402", rec.Code)
	}
	var diag policy.Diagnostic
	if err := json.Unmarshal(rec.Body.Bytes(), &diag); err != nil {
		t.Fatalf("body is not a diagnostic: %v", err)
	}
	if diag.Spending == nil {
		t.Fatal("diagnostic has no spending status")
	}
	if diag.Spending.Current != 0.60 || diag.Spending.Limit != 1.00 {
		t.Errorf("spending = %+v, want {Current:0.6 Limit:1}", *diag.Spending)
	}
}

func TestMiddleware_NoCommitOnHandlerError(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, `version: "1"
policies:
  - type: rate_limit
    max_requests: 1
    window_seconds: 3600
`)
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	handler := Middleware(engine, Config{Logger: testLogger()})(failing)

	// Failed requests are never charged, so the rate budget stays intact.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAgentID, "agent-7")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("request %d status = %d, want 500", i, rec.Code)
		}
	}
	// The budget is still intact: a request through a succeeding handler
	// passes, and only then is the window consumed.
	ok := Middleware(engine, Config{Logger: testLogger()})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderAgentID, "agent-7")
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status after failed requests = %d, want 200 (no commits happened)", rec.Code)
	}
}

func TestMiddleware_ClientIP(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, `version: "1"
policies:
  - type: denylist
    field: ip_address
    values: ["203.0.113.9"]
`)

	// Default: X-Forwarded-For is ignored and RemoteAddr governs.
	handler := Middleware(engine, Config{Logger: testLogger()})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("untrusted forwarded-for status = %d, want 200", rec.Code)
	}

	// Trusted proxy mode blocks on the forwarded hop.
	trusted := Middleware(engine, Config{Logger: testLogger(), TrustForwardedFor: true})(okHandler())
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:4242"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 198.51.100.1")
	rec = httptest.NewRecorder()
	trusted.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("trusted forwarded-for status = %d, want 403", rec.Code)
	}
}

func TestMiddleware_Metrics(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, `version: "1"
policies:
  - type: denylist
    field: agent_id
    values: ["bad"]
`)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, func() float64 { return float64(engine.StateKeys()) }, nil)
	handler := Middleware(engine, Config{Logger: testLogger(), Metrics: metrics})(okHandler())

	send := func(agent string) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAgentID, agent)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	send("good")
	send("good")
	send("bad")

	if got := testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("allow")); got != 2 {
		t.Errorf("allow decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("deny")); got != 1 {
		t.Errorf("deny decisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CommitsTotal); got != 2 {
		t.Errorf("commits = %v, want 2", got)
	}
}

func TestCeilSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ms   int
		want int
	}{
		{0, 0},
		{1, 1},
		{999, 1},
		{1000, 1},
		{1001, 2},
		{60000, 60},
	}
	for _, tt := range tests {
		d := time.Duration(tt.ms) * time.Millisecond
		if got := ceilSeconds(d); got != tt.want {
			t.Errorf("ceilSeconds(%dms) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}
