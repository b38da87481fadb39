// Package cmd provides the CLI commands for tollgate.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/toll-gate/tollgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tollgate",
	Short: "Tollgate - access and spending policy enforcement for machine clients",
	Long: `Tollgate lets an operator declare, in a small YAML policy language, the
access and spending rules an HTTP-facing service must enforce on machine
clients: rate limits, spending caps, and allow/deny lists.

It validates policies before deployment, evaluates them per request through
an embeddable engine, and generates framework-native middleware that
reproduces the engine's semantics.

Quick start:
  1. Write a policy file: policy.yaml
  2. Check it:  tollgate validate policy.yaml
  3. Generate middleware:
     tollgate generate policy.yaml --framework express --output tollgate_middleware.js

Configuration:
  Runtime config is loaded from tollgate.yaml in the current directory,
  $HOME/.tollgate/, or /etc/tollgate/.

  Environment variables can override config values with the TOLLGATE_ prefix.
  Example: TOLLGATE_AUDIT_OUTPUT=file:///var/log/tollgate/audit.jsonl

Commands:
  validate    Check a policy file and report every problem at once
  generate    Emit enforcement middleware for a target framework
  evaluate    Evaluate one request against a policy file
  doctor      Check the local environment
  version     Print version information`,
}

// exitError carries a specific process exit code up to Execute.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tollgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// newLogger builds the CLI's slog logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

// loadConfig loads the runtime config, tolerating a missing config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
