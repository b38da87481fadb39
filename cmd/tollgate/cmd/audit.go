package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	auditstore "github.com/toll-gate/tollgate/internal/adapter/outbound/audit"
	"github.com/toll-gate/tollgate/internal/config"
	"github.com/toll-gate/tollgate/internal/domain/audit"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit records",
	Long: `Audit reads the configured audit sink and prints the most recent
decision records as JSON lines, newest first. Requires a persistent sink
(file:// or sqlite://) in the configuration.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Audit.Output == "stdout" {
			return fmt.Errorf("audit output is stdout; configure a file:// or sqlite:// sink to query records")
		}
		logger := newLogger(cfg)

		store, err := openAuditStore(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Recent(cmd.Context(), auditLimit)
		if err != nil {
			return fmt.Errorf("read audit records: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

// openAuditStore builds the audit.Store named by the configured sink.
func openAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	output := cfg.Audit.Output
	switch {
	case output == "stdout":
		return auditstore.NewWriterStore(os.Stdout, 0), nil
	case strings.HasPrefix(output, "file://"):
		return auditstore.NewFileStore(strings.TrimPrefix(output, "file://"), 0, logger)
	case strings.HasPrefix(output, "sqlite://"):
		return auditstore.NewSQLiteStore(strings.TrimPrefix(output, "sqlite://"), logger)
	default:
		return nil, fmt.Errorf("unrecognized audit output %q", output)
	}
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum records to print")
	rootCmd.AddCommand(auditCmd)
}
