package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local environment",
	Long: `Doctor checks that the runtime configuration loads, that the audit sink
is usable, and reports where configuration was read from.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := false
		check := func(name string, err error) {
			if err != nil {
				failed = true
				fmt.Printf("  [FAIL] %s: %v\n", name, err)
				return
			}
			fmt.Printf("  [ OK ] %s\n", name)
		}

		fmt.Println("tollgate doctor")

		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Printf("  config file: %s\n", used)
		} else {
			fmt.Println("  config file: none (defaults)")
		}

		cfg, err := loadConfig()
		check("configuration", err)
		if cfg != nil {
			check("audit sink", checkAuditSink(cfg.Audit.Output))
		}

		if failed {
			return &exitError{code: 1, err: fmt.Errorf("doctor found problems")}
		}
		return nil
	},
}

// checkAuditSink verifies the configured audit sink's directory exists and
// is writable before the first record is dropped on the floor at runtime.
func checkAuditSink(output string) error {
	if output == "stdout" {
		return nil
	}
	for _, scheme := range []string{"file://", "sqlite://"} {
		if path, ok := strings.CutPrefix(output, scheme); ok {
			dir := filepath.Dir(path)
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("audit directory %s: %w", dir, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("audit path %s: not a directory", dir)
			}
			return nil
		}
	}
	return fmt.Errorf("unrecognized audit output %q", output)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
