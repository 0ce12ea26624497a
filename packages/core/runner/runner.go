package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casecraft/casecraft/packages/assertions"
	"github.com/casecraft/casecraft/packages/core/execctx"
	"github.com/casecraft/casecraft/packages/httpexec"
	"github.com/casecraft/casecraft/packages/metrics"
	"github.com/casecraft/casecraft/packages/policy"
	"github.com/casecraft/casecraft/packages/progress"
	"github.com/casecraft/casecraft/packages/report"
)

// StepExecutor dispatches one rendered request. *httpexec.Executor is the
// production implementation; tests substitute stubs.
type StepExecutor interface {
	Execute(spec *httpexec.RequestSpec, ectx *execctx.Context) (*httpexec.Result, error)
}

// CaseSpec is one executable case: raw (template-bearing) inputs plus its
// assertion list.
type CaseSpec struct {
	Name       string                 `json:"name" yaml:"name"`
	Inputs     map[string]any         `json:"inputs" yaml:"inputs"`
	Assertions []assertions.Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`
	Variables  map[string]any         `json:"variables,omitempty" yaml:"variables,omitempty"`
	Tags       []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Runner executes cases and suites under an execution policy.
type Runner struct {
	executor  StepExecutor
	engine    assertions.Engine
	publisher progress.Publisher
	collector *metrics.Collector
	sleep     func(time.Duration)
}

// Option configures a Runner.
type Option func(*Runner)

// WithPublisher sets the progress event sink.
func WithPublisher(p progress.Publisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithCollector sets the latency metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) {
		if c != nil {
			r.collector = c
		}
	}
}

// New builds a Runner around an executor.
func New(executor StepExecutor, opts ...Option) *Runner {
	r := &Runner{
		executor:  executor,
		publisher: progress.NopPublisher{},
		collector: metrics.NewCollector(),
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// stepOutcome is the settled result of one step's attempt loop.
type stepOutcome struct {
	result           *httpexec.Result
	transportErr     *httpexec.TransportError
	circuitExhausted bool
	host             string
	passed           bool
	assertionResults []assertions.Result
	attempts         int
}

// RunCase executes one case under snap and settles rep. Expected failure
// modes (transport errors, open breakers, failed assertions) terminate the
// report; only genuinely unexpected errors return non-nil after marking
// the report ERROR.
func (r *Runner) RunCase(rep *report.Report, spec *CaseSpec, snap *policy.Snapshot) (err error) {
	if snap == nil {
		snap = policy.DefaultSnapshot()
	}
	ectx := execctx.New(spec.Variables)

	defer r.safetyNet(rep)

	rep.PolicySnapshot = snapshotMap(snap)
	if terr := rep.Transition(report.StatusRunning); terr != nil {
		return terr
	}
	r.publish(rep.ID, progress.EventStarted, "", map[string]any{
		"case_name": spec.Name,
		"policy":    snap.Name,
	})

	rt := policy.NewRuntime(snap)
	outcome, runErr := r.runStep(rt, ectx, spec.Inputs, spec.Assertions, rep.ID, "")
	if runErr != nil {
		return r.finishUnexpected(rep, runErr)
	}

	rep.AttemptsUsed = outcome.attempts
	switch {
	case outcome.circuitExhausted:
		rep.ErrorMessage = fmt.Sprintf("circuit breaker open for host %s", outcome.host)
		rep.Metrics = map[string]any{"status": "error", "attempts": outcome.attempts}
		r.finish(rep, report.StatusError)
	case outcome.transportErr != nil:
		terr := outcome.transportErr
		rep.ErrorMessage = terr.Message
		rep.RequestPayload = terr.RequestPayload
		rep.ResponseBody = terr.ResponsePayload
		if rep.ResponseBody == nil {
			rep.ResponseBody = map[string]any{"error": terr.Message}
		}
		rep.Metrics = terr.Metrics
		rep.Assertions = nil
		r.finish(rep, report.StatusError)
	default:
		rep.RequestPayload = outcome.result.RequestPayload
		rep.ResponseBody = outcome.result.ResponsePayload
		rep.Metrics = outcome.result.Metrics
		rep.Assertions = assertionMaps(outcome.assertionResults)
		if outcome.passed {
			r.finish(rep, report.StatusPassed)
		} else {
			r.finish(rep, report.StatusFailed)
		}
	}
	return nil
}

// runStep drives the attempt loop for one step: breaker check, slot
// acquisition, rate delay, dispatch, then assertion evaluation. Inputs are
// re-rendered on every attempt so templates observe context changes.
func (r *Runner) runStep(
	rt *policy.Runtime,
	ectx *execctx.Context,
	inputs map[string]any,
	asserts []assertions.Assertion,
	reportID, alias string,
) (*stepOutcome, error) {
	snap := rt.Snapshot()
	maxAttempts := snap.RetryMaxAttempts
	outcome := &stepOutcome{}

	for outcome.attempts < maxAttempts {
		outcome.attempts++
		attempt := outcome.attempts

		rendered, ok := execctx.Render(inputs, ectx).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step inputs must render to an object")
		}
		spec, err := httpexec.SpecFromInputs(rendered)
		if err != nil {
			return nil, err
		}
		host := httpexec.HostOf(spec.URL)
		outcome.host = host

		if remaining := rt.CircuitRemaining(host); remaining > 0 {
			r.publish(reportID, progress.EventBlocked, alias, map[string]any{
				"host":             host,
				"attempt":          attempt,
				"retry_in_seconds": remaining.Seconds(),
			})
			if attempt >= maxAttempts {
				outcome.circuitExhausted = true
				return outcome, nil
			}
			r.sleep(remaining)
			continue
		}

		result, execErr := r.dispatch(rt, spec, ectx, host)
		if execErr != nil {
			var terr *httpexec.TransportError
			if !errors.As(execErr, &terr) {
				return nil, execErr
			}
			rt.RecordFailure(host)
			r.collector.Record(host, metricsDuration(terr.Metrics), true)
			outcome.transportErr = terr
			if attempt >= maxAttempts {
				return outcome, nil
			}
			delay := rt.BackoffDelay(attempt)
			r.publish(reportID, progress.EventRetrying, alias, map[string]any{
				"attempt":       attempt,
				"delay_seconds": delay.Seconds(),
				"reason":        "transport_error",
				"error":         terr.Message,
			})
			r.sleep(delay)
			continue
		}

		rt.RecordSuccess(host)
		r.collector.Record(host, metricsDuration(result.Metrics), false)
		outcome.result = result
		outcome.transportErr = nil
		r.publish(reportID, progress.EventStepProgress, alias, map[string]any{
			"attempt":     attempt,
			"status_code": result.Metrics["status_code"],
			"duration_ms": result.Metrics["duration_ms"],
		})

		passed, results := r.engine.Evaluate(asserts, result.ContextData, ectx)
		outcome.passed = passed
		outcome.assertionResults = results
		r.publish(reportID, progress.EventAssertionResult, alias, map[string]any{
			"attempt": attempt,
			"passed":  passed,
			"results": assertionMaps(results),
		})
		if passed {
			return outcome, nil
		}
		if !snap.RetryBackoff.RetryOnAssertions || attempt >= maxAttempts {
			return outcome, nil
		}
		delay := rt.BackoffDelay(attempt)
		r.publish(reportID, progress.EventRetrying, alias, map[string]any{
			"attempt":       attempt,
			"delay_seconds": delay.Seconds(),
			"reason":        "assertion_failure",
		})
		r.sleep(delay)
	}
	return outcome, nil
}

// dispatch holds a concurrency slot only for the rate delay and the call.
func (r *Runner) dispatch(rt *policy.Runtime, spec *httpexec.RequestSpec, ectx *execctx.Context, host string) (*httpexec.Result, error) {
	release := rt.AcquireSlot()
	defer release()

	if delay := rt.RateLimitDelay(host); delay > 0 {
		r.sleep(delay)
	}
	return r.executor.Execute(spec, ectx)
}

// finish settles the report in its terminal status and emits the terminal
// progress event.
func (r *Runner) finish(rep *report.Report, status report.Status) {
	if terr := rep.Transition(status); terr != nil {
		rep.Status = status
	}
	payload := map[string]any{
		"status":      string(rep.Status),
		"attempts":    rep.AttemptsUsed,
		"duration_ms": rep.DurationMs,
	}
	if rep.ErrorMessage != "" {
		payload["error"] = rep.ErrorMessage
	}
	r.publish(rep.ID, progress.EventFinished, "", payload)
}

func (r *Runner) finishUnexpected(rep *report.Report, cause error) error {
	rep.ErrorMessage = cause.Error()
	r.finish(rep, report.StatusError)
	return cause
}

// safetyNet marks the report ERROR on panic, emits the terminal event, and
// re-raises so the caller's supervision layer can observe the crash.
func (r *Runner) safetyNet(rep *report.Report) {
	rec := recover()
	if rec == nil {
		return
	}
	rep.ErrorMessage = fmt.Sprintf("unexpected failure: %v", rec)
	if !rep.Status.Terminal() {
		r.finish(rep, report.StatusError)
	}
	panic(rec)
}

func (r *Runner) publish(reportID string, eventType progress.EventType, alias string, payload map[string]any) {
	r.publisher.Publish(progress.NewEvent(reportID, eventType, alias, payload))
}

func metricsDuration(m map[string]any) time.Duration {
	if m == nil {
		return 0
	}
	switch v := m["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	default:
		return 0
	}
}

// snapshotMap serializes the policy snapshot for verbatim audit storage.
func snapshotMap(snap *policy.Snapshot) map[string]any {
	encoded, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	return out
}

func assertionMaps(results []assertions.Result) []map[string]any {
	if len(results) == 0 {
		return nil
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	var out []map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	return out
}
