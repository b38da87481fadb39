package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/toll-gate/tollgate/internal/adapter/outbound/memory"
	"github.com/toll-gate/tollgate/internal/domain/policy"
	"github.com/toll-gate/tollgate/internal/service"
)

var evaluateRequest string

// evaluateInput is the JSON request descriptor accepted by --request.
type evaluateInput struct {
	AgentID       string  `json:"agent_id,omitempty"`
	WalletAddress string  `json:"wallet_address,omitempty"`
	IPAddress     string  `json:"ip_address,omitempty"`
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <policy-file>",
	Short: "Evaluate one request against a policy file",
	Long: `Evaluate runs a single request descriptor through the evaluation engine
with a fresh state store and prints the decision diagnostic as JSON. Useful
for CI checks and policy debugging; no usage is committed.

Example:
  tollgate evaluate policy.yaml --request '{"agent_id":"agent-7","estimated_cost":0.05}'`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		vp, _, err := loadPolicy(args[0])
		if err != nil {
			return &exitError{code: 1, err: err}
		}

		var in evaluateInput
		if err := json.Unmarshal([]byte(evaluateRequest), &in); err != nil {
			return fmt.Errorf("invalid --request JSON: %w", err)
		}
		req := policy.Request{
			AgentID:       in.AgentID,
			WalletAddress: in.WalletAddress,
			IPAddress:     in.IPAddress,
			EstimatedCost: in.EstimatedCost,
		}
		if in.Timestamp != "" {
			ts, err := time.Parse(time.RFC3339, in.Timestamp)
			if err != nil {
				return fmt.Errorf("invalid --request timestamp: %w", err)
			}
			req.Timestamp = ts
		}

		opts := []service.EvaluationOption{service.WithCacheSize(cfg.Middleware.CacheSize)}
		// A persistent sink records the evaluation; the default stdout sink
		// is skipped so the decision JSON stays the only stdout output.
		if cfg.Audit.Output != "stdout" {
			store, err := openAuditStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			auditSvc := service.NewAuditService(store, logger,
				service.WithBatchSize(cfg.Audit.BatchSize),
				service.WithFlushInterval(cfg.Audit.FlushInterval),
				service.WithChannelSize(cfg.Audit.ChannelSize),
			)
			defer auditSvc.Stop()
			opts = append(opts, service.WithAuditService(auditSvc))
		}

		engine := service.NewEvaluationService(vp, memory.NewStateStore(), logger, opts...)
		decision := engine.Evaluate(cmd.Context(), req)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(decision.Diagnostic())
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateRequest, "request", "{}", "request descriptor as JSON")
	rootCmd.AddCommand(evaluateCmd)
}
