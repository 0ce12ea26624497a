package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "casecraft",
	Short: "Policy-governed HTTP case execution",
	Long: `casecraft runs declarative HTTP cases and suites from YAML
documents. Every case executes under an explicit policy: retries with
backoff, per-host rate limits, concurrency caps, and circuit breakers.
Each run produces a persistent report with the full request, response,
and assertion trail.`,
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errCasesFailed) && !errors.Is(err, errValidationFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(versionCmd)
}
