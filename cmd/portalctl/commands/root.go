// Package commands implements the portalctl CLI surface.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orcd/portalctl/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portalctl",
		Short: "portalctl - research portal deployment driver",
		Long: `portalctl deploys a research portal onto a target host through a fixed
sequence of provisioning phases: prerequisites, application install,
secret generation, reverse-proxy configuration, datastore initialization
and service activation.

Targets: the local host, an isolated instance (isolated:<name>) or a
remote host (ssh://user@host). Every external command goes through one
execution context, so --dry-run uniformly records intended actions
without mutating anything.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "deployment document path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// buildLogger constructs the process logger from the global flags.
func buildLogger() *telemetry.Logger {
	cfg := telemetry.DefaultLoggingConfig()
	if verbose {
		cfg.Level = "debug"
	}
	log, err := telemetry.NewLogger(cfg)
	if err != nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return log
}

// defaultHistoryPath is where run history is kept unless overridden.
func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "portalctl-history.db"
	}
	return home + "/.portalctl/history.db"
}
