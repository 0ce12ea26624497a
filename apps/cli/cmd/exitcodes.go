package cmd

import "errors"

// Exit codes for the casecraft CLI
const (
	// ExitSuccess indicates all cases passed
	ExitSuccess = 0

	// ExitCaseFailure indicates one or more cases failed or errored
	ExitCaseFailure = 1

	// ExitDocumentError indicates an invalid case document
	ExitDocumentError = 2
)

// Sentinel errors carried up through cobra so Execute can map them to
// exit codes after deferred cleanup (report store, output files) has run.
var (
	errCasesFailed      = errors.New("one or more cases failed")
	errValidationFailed = errors.New("validation failed")
)

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errValidationFailed):
		return ExitDocumentError
	default:
		return ExitCaseFailure
	}
}
