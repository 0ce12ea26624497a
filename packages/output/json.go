package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/casecraft/casecraft/packages/report"
)

// JSONOutput is the complete machine-readable run document.
type JSONOutput struct {
	Summary  JSONSummary      `json:"summary"`
	Reports  []*report.Report `json:"reports"`
	Duration float64          `json:"duration_ms"`
	Time     string           `json:"time"`
}

// JSONSummary is the run roll-up.
type JSONSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// JSONFormatter accumulates reports and writes one JSON document on Flush.
type JSONFormatter struct {
	writer  io.Writer
	reports []*report.Report
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer:  os.Stdout,
		reports: make([]*report.Report, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatReport(rep *report.Report) {
	f.reports = append(f.reports, rep)
}

// Flush writes the accumulated reports with their summary.
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	var passed, failed, errored int
	for _, rep := range f.reports {
		switch rep.Status {
		case report.StatusPassed:
			passed++
		case report.StatusFailed:
			failed++
		case report.StatusError:
			errored++
		}
	}

	out := JSONOutput{
		Summary: JSONSummary{
			Total:   len(f.reports),
			Passed:  passed,
			Failed:  failed,
			Errored: errored,
		},
		Reports:  f.reports,
		Duration: float64(totalDuration.Milliseconds()),
		Time:     time.Now().UTC().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
