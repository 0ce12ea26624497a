package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casecraft/casecraft/packages/casefile"
	"github.com/casecraft/casecraft/packages/core/runner"
	"github.com/casecraft/casecraft/packages/httpexec"
	"github.com/casecraft/casecraft/packages/metrics"
	"github.com/casecraft/casecraft/packages/output"
	"github.com/casecraft/casecraft/packages/policy"
	"github.com/casecraft/casecraft/packages/progress"
	"github.com/casecraft/casecraft/packages/report"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>",
	Short: "Run cases and suites from case documents",
	Long: `Run HTTP cases defined in .yaml, .yml, or .json case documents.

Examples:
  casecraft run cases.yaml
  casecraft run ./cases/ --tags smoke
  casecraft run cases.yaml --name "create thing"
  casecraft run cases.yaml --db reports.db
  casecraft run cases.yaml --watch -v`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	nameFlag       string
	tagsFlag       string
	verboseFlag    int
	quietFlag      bool
	bailFlag       bool
	noColorFlag    bool
	outputFlag     string
	outputFileFlag string
	dbFlag         string
	watchFlag      bool
)

func init() {
	runCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Run only cases or suites matching this name")
	runCmd.Flags().StringVarP(&tagsFlag, "tags", "t", getEnvString("CASECRAFT_TAGS", ""), "Run only cases with specified tags (comma-separated) (env: CASECRAFT_TAGS)")

	runCmd.Flags().CountVarP(&verboseFlag, "verbose", "v", "Verbose output (shows progress events)")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", getEnvBool("CASECRAFT_QUIET", false), "Suppress all output except errors (env: CASECRAFT_QUIET)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("CASECRAFT_NO_COLOR", false), "Disable colored output (env: CASECRAFT_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("CASECRAFT_OUTPUT", "console"), "Output format: console, json (env: CASECRAFT_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("CASECRAFT_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: CASECRAFT_OUTPUT_FILE)")

	runCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("CASECRAFT_BAIL", false), "Stop on first failure (env: CASECRAFT_BAIL)")
	runCmd.Flags().StringVar(&dbFlag, "db", getEnvString("CASECRAFT_DB", ""), "SQLite database path for persisting reports (env: CASECRAFT_DB)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run")
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// runTotals accumulates outcomes across files.
type runTotals struct {
	passed  int
	failed  int
	errored int
	bailed  bool
}

func runCommand(cmd *cobra.Command, args []string) error {
	var outWriter *os.File
	var err error
	if outputFileFlag != "" {
		outWriter, err = os.Create(outputFileFlag)
		if err != nil {
			return fmt.Errorf("cannot create output file: %w", err)
		}
		defer outWriter.Close()
	}

	var console *output.ConsoleFormatter
	var jsonOut *output.JSONFormatter
	switch strings.ToLower(outputFlag) {
	case "json":
		opts := []output.JSONOption{}
		if outWriter != nil {
			opts = append(opts, output.JSONWithWriter(outWriter))
		}
		jsonOut = output.NewJSONFormatter(opts...)
	default: // "console"
		consoleOpts := []output.ConsoleOption{
			output.WithVerbose(verboseFlag > 0),
			output.WithNoColor(noColorFlag || quietFlag),
		}
		if outWriter != nil {
			consoleOpts = append(consoleOpts, output.WithWriter(outWriter))
		}
		console = output.NewConsoleFormatter(consoleOpts...)
		if !quietFlag {
			console.FormatHeader(version)
		}
	}

	files, err := collectFiles(args)
	if err != nil {
		if console != nil {
			console.FormatError(err)
		}
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .yaml, .yml, or .json case files found")
	}

	var tagsFilter []string
	if tagsFlag != "" {
		for _, t := range strings.Split(tagsFlag, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tagsFilter = append(tagsFilter, t)
			}
		}
	}

	var store *report.Store
	if dbFlag != "" {
		store, err = report.OpenStore(dbFlag)
		if err != nil {
			return fmt.Errorf("opening report store: %w", err)
		}
		defer store.Close()
	}

	runAll := func() runTotals {
		start := time.Now()
		totals := runTotals{}
		for _, file := range files {
			runFile(cmd, file, tagsFilter, store, console, jsonOut, &totals)
			if totals.bailed {
				break
			}
		}
		if console != nil && !quietFlag {
			console.FormatSummary(totals.passed, totals.failed, totals.errored, time.Since(start))
		}
		if jsonOut != nil {
			if err := jsonOut.Flush(time.Since(start)); err != nil {
				fmt.Fprintf(os.Stderr, "error writing output: %v\n", err)
			}
		}
		return totals
	}

	totals := runAll()

	if !watchFlag {
		// Deferred cleanup (store, output file) must run before the
		// process exits, so the non-zero code travels as a sentinel.
		if totals.failed > 0 || totals.errored > 0 {
			return errCasesFailed
		}
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	for _, file := range files {
		dir := filepath.Dir(file)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil && console != nil {
				console.FormatError(fmt.Errorf("failed to watch %s: %w", dir, err))
			}
			watchedDirs[dir] = true
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var debounceTimer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) && isCaseFile(event.Name) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "\n\nFile changed: %s\nRe-running...\n\n", event.Name)
					runAll()
					fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n")
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if console != nil {
				console.FormatError(fmt.Errorf("watcher error: %w", err))
			}
		}
	}
}

// runFile executes all selected cases and suites of one document.
func runFile(cmd *cobra.Command, file string, tagsFilter []string, store *report.Store, console *output.ConsoleFormatter, jsonOut *output.JSONFormatter, totals *runTotals) {
	doc, err := casefile.Load(file)
	if err != nil {
		reportError(console, err)
		totals.errored++
		return
	}

	snap, err := doc.PolicySnapshot()
	if err != nil {
		reportError(console, err)
		totals.errored++
		return
	}

	executor := httpexec.New(
		httpexec.WithTimeout(snap.Timeout()),
		httpexec.WithRedactedFields(doc.Redact...),
	)
	broker := progress.NewBroker()
	collector := metrics.NewCollector()
	r := runner.New(executor,
		runner.WithPublisher(broker),
		runner.WithCollector(collector),
	)

	if console != nil && !quietFlag {
		fmt.Fprintf(cmd.OutOrStdout(), "\nRunning: %s\n\n", file)
	}

	record := func(rep *report.Report) {
		if console != nil && !quietFlag {
			console.FormatReport(rep)
		}
		if jsonOut != nil {
			jsonOut.FormatReport(rep)
		}
		if store != nil {
			if err := store.Save(context.Background(), rep); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to persist report %s: %v\n", rep.ID, err)
			}
		}
		switch rep.Status {
		case report.StatusPassed:
			totals.passed++
		case report.StatusFailed:
			totals.failed++
		default:
			totals.errored++
		}
		if bailFlag && rep.Status != report.StatusPassed {
			totals.bailed = true
		}
	}

	for i := range doc.Cases {
		c := &doc.Cases[i]
		if !casefile.MatchesTags(c.Tags, tagsFilter) {
			continue
		}
		if nameFlag != "" && c.Name != nameFlag {
			continue
		}

		spec := c.CaseSpec()
		spec.Variables = casefile.MergeVariables(doc.Variables, c.Variables)

		rep := report.New(uuid.NewString(), c.Name)
		drain := streamEvents(broker, console, rep.ID)
		broker.Publish(progress.NewEvent(rep.ID, progress.EventQueued, "", map[string]any{"case_name": c.Name}))
		if err := r.RunCase(rep, spec, effectivePolicy(snap, c.Tags)); err != nil {
			reportError(console, err)
		}
		drain()
		record(rep)
		if totals.bailed {
			return
		}
	}

	for i := range doc.Suites {
		s := &doc.Suites[i]
		if !casefile.MatchesTags(s.Tags, tagsFilter) {
			continue
		}
		if nameFlag != "" && s.Name != nameFlag {
			continue
		}

		spec, err := doc.SuiteSpec(s)
		if err != nil {
			reportError(console, err)
			totals.errored++
			continue
		}
		spec.Variables = casefile.MergeVariables(doc.Variables, s.Variables)

		rep := report.New(uuid.NewString(), s.Name)
		drain := streamEvents(broker, console, rep.ID)
		broker.Publish(progress.NewEvent(rep.ID, progress.EventQueued, "", map[string]any{"suite_name": s.Name}))
		if err := r.RunSuite(rep, spec, effectivePolicy(snap, s.Tags)); err != nil {
			reportError(console, err)
		}
		drain()
		record(rep)
		if totals.bailed {
			return
		}
	}

	if console != nil && verboseFlag > 0 {
		for _, stats := range collector.Snapshot() {
			fmt.Fprintln(cmd.OutOrStdout(), formatHostStats(stats))
		}
	}
}

func formatHostStats(stats metrics.HostStats) string {
	return fmt.Sprintf("  %s: %d requests, %d errors, p50=%dµs p95=%dµs p99=%dµs",
		stats.Host, stats.Total, stats.Errors,
		stats.P50.Microseconds(), stats.P95.Microseconds(), stats.P99.Microseconds())
}

// effectivePolicy applies the document policy only to entities its tag
// selector matches; everything else runs under the default policy.
func effectivePolicy(snap *policy.Snapshot, tags []string) *policy.Snapshot {
	if snap.SelectsTags(tags) {
		return snap
	}
	return policy.DefaultSnapshot()
}

// streamEvents subscribes to one report's progress feed and prints it
// live. The returned function unsubscribes and waits for the printer.
func streamEvents(broker *progress.Broker, console *output.ConsoleFormatter, reportID string) func() {
	if console == nil || verboseFlag == 0 {
		return func() {}
	}
	events, cancel := broker.Subscribe(reportID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			console.FormatEvent(ev)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func reportError(console *output.ConsoleFormatter, err error) {
	if console != nil {
		console.FormatError(err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			err := filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isCaseFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else {
			if isCaseFile(arg) {
				files = append(files, arg)
			}
		}
	}

	return files, nil
}

func isCaseFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}
