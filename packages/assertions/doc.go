// Package assertions evaluates declarative checks against a captured HTTP
// response. Evaluation is total: malformed definitions, unknown operators,
// and type mismatches all surface as failing results with messages, never
// as errors or panics. Diagnostic diffs are computed only for failed
// results over structured values.
package assertions
