// Package output renders execution reports for humans and machines.
//
// The console formatter prints colored per-case lines with failed
// assertion detail; the JSON formatter accumulates full reports and
// emits one document with a summary. Both consume the same reports the
// store persists, so what you see is what was saved.
package output
