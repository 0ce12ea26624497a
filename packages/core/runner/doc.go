// Package runner orchestrates case and suite execution: it drives the
// policy-governed attempt loop around the HTTP executor, evaluates
// assertions, publishes progress events in causal order, and settles the
// report into its terminal status.
package runner
