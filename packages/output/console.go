package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/casecraft/casecraft/packages/progress"
	"github.com/casecraft/casecraft/packages/report"
)

// formatValue formats a value for display, truncating or summarizing large values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("casecraft"), version)
}

// FormatReport prints one finished report as a status line plus, on
// failure, the assertions that did not hold.
func (f *ConsoleFormatter) FormatReport(rep *report.Report) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	var symbol string
	switch rep.Status {
	case report.StatusPassed:
		symbol = green("✓")
	case report.StatusFailed:
		symbol = red("✗")
	case report.StatusError:
		symbol = red("x")
	default:
		symbol = yellow("-")
	}

	fmt.Fprintf(f.writer, "  %s %s %s", symbol, rep.CaseName, cyan(fmt.Sprintf("(%dms)", rep.DurationMs)))
	if rep.AttemptsUsed > 1 {
		fmt.Fprintf(f.writer, " %s", yellow(fmt.Sprintf("[%d attempts]", rep.AttemptsUsed)))
	}
	fmt.Fprintf(f.writer, "\n")

	if rep.Status == report.StatusError && rep.ErrorMessage != "" {
		fmt.Fprintf(f.writer, "    %s %s\n", red("→"), rep.ErrorMessage)
	}

	if rep.Status == report.StatusFailed {
		for _, a := range rep.Assertions {
			passed, _ := a["passed"].(bool)
			if passed {
				continue
			}
			name, _ := a["name"].(string)
			operator, _ := a["operator"].(string)
			fmt.Fprintf(f.writer, "    %s %s %s\n", red("→"), name, operator)
			fmt.Fprintf(f.writer, "      Expected: %s\n", formatValue(a["expected"], 100))
			fmt.Fprintf(f.writer, "      Actual:   %s\n", formatValue(a["actual"], 100))
			if msg, _ := a["message"].(string); msg != "" {
				fmt.Fprintf(f.writer, "      %s\n", msg)
			}
		}
	}
}

// FormatEvent streams one progress event; only verbose runs show them.
func (f *ConsoleFormatter) FormatEvent(ev progress.Event) {
	if !f.verbose {
		return
	}
	faint := color.New(color.Faint).SprintFunc()
	line := string(ev.Type)
	if ev.StepAlias != "" {
		line = ev.StepAlias + " " + line
	}
	switch ev.Type {
	case progress.EventRetrying:
		if reason, ok := ev.Payload["reason"].(string); ok {
			line += " (" + reason + ")"
		}
	case progress.EventBlocked:
		if host, ok := ev.Payload["host"].(string); ok {
			line += " on " + host
		}
	}
	fmt.Fprintf(f.writer, "    %s\n", faint("· "+line))
}

// FormatSummary prints the run totals.
func (f *ConsoleFormatter) FormatSummary(passed, failed, errored int, duration time.Duration) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(f.writer, "\nCases: ")
	if passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", passed)))
	}
	if failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", failed)))
	}
	if errored > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d errored", errored)))
	}
	fmt.Fprintf(f.writer, "%d total\n", passed+failed+errored)
	fmt.Fprintf(f.writer, "Time:  %dms\n", duration.Milliseconds())
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}
