package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/casecraft/casecraft/packages/casefile"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|directory>",
	Short: "Validate case documents without executing them",
	Long: `Validate case documents against the document schema without
executing any requests.

Examples:
  casecraft validate cases.yaml
  casecraft validate ./cases/`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no .yaml, .yml, or .json case files found")
	}

	hasErrors := false
	for _, file := range files {
		doc, err := casefile.Load(file)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		if _, err := doc.PolicySnapshot(); err != nil {
			fmt.Fprintf(cmd.OutOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%d cases, %d suites)\n", file, len(doc.Cases), len(doc.Suites))
	}

	if hasErrors {
		return errValidationFailed
	}

	return nil
}
