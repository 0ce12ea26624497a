// Package report models execution reports and their persistence. A report
// tracks one case (or suite) run from creation through its terminal status.
package report

import (
	"fmt"
	"time"
)

// Status is a report's lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusError   Status = "ERROR"
)

// validTransitions encodes the one-way lifecycle: PENDING starts RUNNING,
// RUNNING ends in exactly one terminal status.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusPassed, StatusFailed, StatusError},
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusError
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Report is the persisted record of one execution.
type Report struct {
	ID             string           `json:"id"`
	CaseName       string           `json:"case_name"`
	Status         Status           `json:"status"`
	PolicySnapshot map[string]any   `json:"policy_snapshot,omitempty"`
	AttemptsUsed   int              `json:"attempts_used"`
	DurationMs     int64            `json:"duration_ms"`
	RequestPayload map[string]any   `json:"request_payload,omitempty"`
	ResponseBody   map[string]any   `json:"response_payload,omitempty"`
	Assertions     []map[string]any `json:"assertions_result,omitempty"`
	Metrics        map[string]any   `json:"metrics,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

// New creates a pending report for a case.
func New(id, caseName string) *Report {
	return &Report{
		ID:        id,
		CaseName:  caseName,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Transition moves the report to next, stamping start and finish times.
func (r *Report) Transition(next Status) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("invalid report transition %s -> %s", r.Status, next)
	}
	now := time.Now().UTC()
	switch next {
	case StatusRunning:
		r.StartedAt = &now
	default:
		r.FinishedAt = &now
		if r.StartedAt != nil {
			r.DurationMs = now.Sub(*r.StartedAt).Milliseconds()
		}
	}
	r.Status = next
	return nil
}
