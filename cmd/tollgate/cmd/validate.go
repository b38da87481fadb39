package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toll-gate/tollgate/internal/domain/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate <policy-file>",
	Short: "Check a policy file and report every problem at once",
	Long: `Validate parses and validates a policy file.

Parse errors (malformed YAML, wrong types, unknown rule types) are reported
one at a time, at the offending rule. Validation errors (conflicting
allow/deny values, out-of-bounds limits, bad wildcard patterns) are all
collected and printed in one pass, each with a suggested fix.

Exit codes: 0 on success, 1 if the policy has any error.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, warnings, err := loadPolicy(args[0])
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
		}
		if err != nil {
			var verrs policy.ValidationErrors
			if errors.As(err, &verrs) {
				for _, ve := range verrs {
					fmt.Fprintf(os.Stderr, "error: %s\n", ve.Error())
				}
				return &exitError{code: 1, err: fmt.Errorf("%s: %d validation error(s)", args[0], len(verrs))}
			}
			return &exitError{code: 1, err: err}
		}

		fmt.Printf("%s: OK\n", args[0])
		return nil
	},
}

// loadPolicy reads, parses, and validates a policy file.
func loadPolicy(path string) (*policy.ValidatedPolicy, []policy.Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read policy file: %w", err)
	}
	p, err := policy.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return policy.Validate(p)
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
