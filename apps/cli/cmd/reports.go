package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casecraft/casecraft/packages/report"
)

var reportsCmd = &cobra.Command{
	Use:   "reports <case-name>",
	Short: "List persisted reports for a case",
	Long: `List reports previously persisted with --db, newest first.

Examples:
  casecraft reports "create thing" --db reports.db
  casecraft reports "crud flow" --db reports.db --limit 5`,
	Args: cobra.ExactArgs(1),
	RunE: reportsCommand,
}

var (
	reportsDBFlag    string
	reportsLimitFlag int
)

func init() {
	reportsCmd.Flags().StringVar(&reportsDBFlag, "db", getEnvString("CASECRAFT_DB", ""), "SQLite database path (env: CASECRAFT_DB)")
	reportsCmd.Flags().IntVar(&reportsLimitFlag, "limit", getEnvInt("CASECRAFT_REPORTS_LIMIT", 20), "Maximum number of reports to list (env: CASECRAFT_REPORTS_LIMIT)")
}

func reportsCommand(cmd *cobra.Command, args []string) error {
	if reportsDBFlag == "" {
		return fmt.Errorf("--db is required")
	}

	store, err := report.OpenStore(reportsDBFlag)
	if err != nil {
		return fmt.Errorf("opening report store: %w", err)
	}
	defer store.Close()

	reports, err := store.ListByCase(context.Background(), args[0], reportsLimitFlag)
	if err != nil {
		return err
	}

	if len(reports) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No reports found for %q\n", args[0])
		return nil
	}

	for _, rep := range reports {
		line := fmt.Sprintf("%s  %-7s  %dms  attempts=%d", rep.ID, rep.Status, rep.DurationMs, rep.AttemptsUsed)
		if rep.FinishedAt != nil {
			line += "  " + rep.FinishedAt.Format("2006-01-02 15:04:05")
		}
		if rep.ErrorMessage != "" {
			line += "  " + rep.ErrorMessage
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	return nil
}
