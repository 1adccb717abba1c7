// Package cli implements the eccs-e2e command-line interface using Cobra.
// It runs the end-to-end scenario against eccs targets and manages the
// stored admin credentials and run history that go with it.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/log"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

var (
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "eccs-e2e",
	Short: "End-to-end tests for the eccs client of the Encryption Server",
	Long: `eccs-e2e drives one or more eccs binaries through a fixed scenario of
user management, encryption, storage and permission operations against a
live Encryption Server, and checks every result.

Each eccs release speaks its own command-line contract (v1 to v4); the
scenario skips steps a contract cannot express.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetWriter(cmd.ErrOrStderr())
		dir := config.Dir()

		// Debug settings only; commands load and validate config themselves.
		retention := config.DefaultRetention
		if cfg, err := config.Load(dir); err == nil {
			retention = cfg.Debug.RetentionDays
		}

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      filepath.Join(dir, "debug"),
			RetentionDays: retention,
		}); err != nil {
			ui.Warnf("failed to initialize debug logging: %v", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	defer log.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
