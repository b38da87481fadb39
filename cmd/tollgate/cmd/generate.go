package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/toll-gate/tollgate/internal/codegen"
)

var (
	generateFramework string
	generateOutput    string
)

var generateCmd = &cobra.Command{
	Use:   "generate <policy-file>",
	Short: "Emit enforcement middleware for a target framework",
	Long: `Generate renders a validated policy into middleware source code for a
target web framework. The generated middleware reproduces the evaluation
engine's exact semantics: deny first, then allowlist, then rate limit, then
spending cap with commit-on-success, plus an audit-log hook per decision.

Exit codes: 0 on success, 1 on validation failure, 2 on unsupported
framework.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		vp, warnings, err := loadPolicy(args[0])
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
		}
		if err != nil {
			return &exitError{code: 1, err: err}
		}

		gen := codegen.NewGenerator(logger)
		out, err := gen.Generate(vp, generateFramework)
		if err != nil {
			var unsupported *codegen.UnsupportedFrameworkError
			if errors.As(err, &unsupported) {
				return &exitError{code: 2, err: fmt.Errorf(
					"unsupported framework %q; supported: %s",
					unsupported.Framework, strings.Join(unsupported.Supported, ", "))}
			}
			return err
		}

		if generateOutput == "-" {
			_, err = os.Stdout.Write(out)
			return err
		}
		if err := os.WriteFile(generateOutput, out, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("wrote %s middleware to %s\n", generateFramework, generateOutput)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateFramework, "framework", "", "target framework (express, fastapi, echo)")
	generateCmd.Flags().StringVar(&generateOutput, "output", "-", "output path (\"-\" for stdout)")
	_ = generateCmd.MarkFlagRequired("framework")
	rootCmd.AddCommand(generateCmd)
}
