package httpmw

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/toll-gate/tollgate/internal/domain/policy"
)

// Request attribute headers.
const (
	// HeaderAgentID carries the client's agent identifier.
	HeaderAgentID = "X-Agent-ID"
	// HeaderWalletAddress carries the client's wallet address.
	HeaderWalletAddress = "X-Wallet-Address"
)

// Config configures the middleware.
type Config struct {
	// EstimatedCost prices the protected action for a request. Nil means
	// every request is free.
	EstimatedCost func(r *http.Request) float64
	// TrustForwardedFor uses the first X-Forwarded-For hop as the client IP.
	// Only enable behind a trusted proxy.
	TrustForwardedFor bool
	// Metrics records decision metrics when non-nil.
	Metrics *Metrics
	// Logger logs evaluation outcomes at debug level. Required.
	Logger *slog.Logger
}

// Middleware returns a net/http middleware that enforces the engine's policy:
// 403 for denied requests, 429 with Retry-After for rate limits, 402 for
// spending caps. Usage is committed only after the wrapped handler completes
// without a server-side or client-side error status.
func Middleware(engine policy.Engine, cfg Config) func(http.Handler) http.Handler {
	estimatedCost := cfg.EstimatedCost
	if estimatedCost == nil {
		estimatedCost = func(*http.Request) float64 { return 0 }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := policy.Request{
				AgentID:       r.Header.Get(HeaderAgentID),
				WalletAddress: r.Header.Get(HeaderWalletAddress),
				IPAddress:     clientIP(r, cfg.TrustForwardedFor),
				EstimatedCost: estimatedCost(r),
			}

			start := time.Now()
			decision := engine.Evaluate(r.Context(), req)
			if cfg.Metrics != nil {
				cfg.Metrics.EvalDuration.Observe(time.Since(start).Seconds())
				cfg.Metrics.DecisionsTotal.WithLabelValues(string(decision.Outcome)).Inc()
			}
			cfg.Logger.Debug("request evaluated",
				"subject", req.Subject(),
				"outcome", decision.Outcome,
				"rule", decision.RuleIndex,
			)

			switch decision.Outcome {
			case policy.OutcomeDeny:
				writeDecision(w, http.StatusForbidden, decision)
				return
			case policy.OutcomeRateLimited:
				w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(decision.RetryAfter)))
				writeDecision(w, http.StatusTooManyRequests, decision)
				return
			case policy.OutcomeSpendingCapExceeded:
				writeDecision(w, http.StatusPaymentRequired, decision)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Commit-on-success: rejected or failed requests are not charged.
			if rec.status < 400 {
				engine.Commit(r.Context(), req)
				if cfg.Metrics != nil {
					cfg.Metrics.CommitsTotal.Inc()
				}
			}
		})
	}
}

// writeDecision writes the decision's diagnostic form as JSON.
func writeDecision(w http.ResponseWriter, status int, d policy.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d.Diagnostic())
}

// ceilSeconds rounds a duration up to whole seconds for the Retry-After
// header, never returning less than 1 for a positive duration.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// clientIP extracts the client IP, optionally honoring X-Forwarded-For.
func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the wrapped handler's status code for the
// commit-on-success check.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
