package runner

import (
	"fmt"

	"github.com/casecraft/casecraft/packages/assertions"
	"github.com/casecraft/casecraft/packages/core/execctx"
	"github.com/casecraft/casecraft/packages/policy"
	"github.com/casecraft/casecraft/packages/progress"
	"github.com/casecraft/casecraft/packages/report"
)

// SuiteStep is one ordered step in a suite. A step either references a
// case (whose inputs and assertions it inherits) or carries inputs of its
// own; step-level values override the case's.
type SuiteStep struct {
	Alias      string                 `json:"alias,omitempty" yaml:"alias,omitempty"`
	Case       *CaseSpec              `json:"-" yaml:"-"`
	Inputs     map[string]any         `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Variables  map[string]any         `json:"variables,omitempty" yaml:"variables,omitempty"`
	Assertions []assertions.Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`
}

// SuiteSpec is an ordered sequence of steps sharing one execution context.
type SuiteSpec struct {
	Name      string         `json:"name" yaml:"name"`
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Steps     []SuiteStep    `json:"steps" yaml:"steps"`
	Tags      []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RunSuite executes the suite's steps sequentially against one shared
// context. A step whose transport retries are exhausted aborts the
// remaining steps (suite ERROR); a step whose assertions fail does not
// (suite FAILED).
func (r *Runner) RunSuite(rep *report.Report, suite *SuiteSpec, snap *policy.Snapshot) (err error) {
	if snap == nil {
		snap = policy.DefaultSnapshot()
	}
	ectx := execctx.New(suite.Variables)

	defer r.safetyNet(rep)

	rep.PolicySnapshot = snapshotMap(snap)
	if terr := rep.Transition(report.StatusRunning); terr != nil {
		return terr
	}
	r.publish(rep.ID, progress.EventStarted, "", map[string]any{
		"suite_name": suite.Name,
		"steps":      len(suite.Steps),
		"policy":     snap.Name,
	})

	rt := policy.NewRuntime(snap)

	var (
		requestSteps   []map[string]any
		responseSteps  []map[string]any
		assertionSteps []map[string]any
		metricSteps    []map[string]any
		totalDuration  int64
		totalAttempts  int
		overallPassed  = true
		overallError   string
	)

	for index, step := range suite.Steps {
		alias := step.Alias
		if alias == "" {
			alias = fmt.Sprintf("step_%d", index+1)
		}

		var caseName string
		baseInputs := map[string]any{}
		var baseAssertions []assertions.Assertion
		if step.Case != nil {
			caseName = step.Case.Name
			baseInputs = step.Case.Inputs
			baseAssertions = step.Case.Assertions
		}
		mergedInputs := mergeInputs(baseInputs, step.Inputs)

		if len(step.Variables) > 0 {
			if rendered, ok := execctx.Render(step.Variables, ectx).(map[string]any); ok {
				for key, value := range rendered {
					ectx.Variables[key] = value
				}
			}
		}

		mergedAssertions := append([]assertions.Assertion{}, baseAssertions...)
		mergedAssertions = append(mergedAssertions, step.Assertions...)

		outcome, runErr := r.runStep(rt, ectx, mergedInputs, mergedAssertions, rep.ID, alias)
		if runErr != nil {
			return r.finishUnexpected(rep, runErr)
		}
		totalAttempts += outcome.attempts

		if outcome.circuitExhausted || outcome.result == nil {
			message := fmt.Sprintf("circuit breaker open for host %s", outcome.host)
			var errMetrics map[string]any
			if outcome.transportErr != nil {
				message = outcome.transportErr.Message
				errMetrics = outcome.transportErr.Metrics
			}
			requestSteps = append(requestSteps, map[string]any{
				"alias": alias, "case": caseName, "request": transportRequest(outcome),
			})
			responseSteps = append(responseSteps, map[string]any{
				"alias": alias, "case": caseName, "response": map[string]any{"error": message},
			})
			assertionSteps = append(assertionSteps, map[string]any{
				"alias": alias, "case": caseName, "passed": false, "error": message, "assertions": []any{},
			})
			metricSteps = append(metricSteps, map[string]any{
				"alias": alias, "case": caseName, "status": "error", "duration_ms": errMetrics["duration_ms"],
			})
			totalDuration += metricsDuration(errMetrics).Milliseconds()
			overallPassed = false
			overallError = message
			break
		}

		result := outcome.result
		requestSteps = append(requestSteps, map[string]any{
			"alias": alias, "case": caseName, "request": result.RequestPayload,
		})
		responseSteps = append(responseSteps, map[string]any{
			"alias": alias, "case": caseName, "response": result.ResponsePayload,
		})
		assertionSteps = append(assertionSteps, map[string]any{
			"alias":      alias,
			"case":       caseName,
			"passed":     outcome.passed,
			"assertions": assertionMaps(outcome.assertionResults),
		})
		metricSteps = append(metricSteps, map[string]any{
			"alias":       alias,
			"case":        caseName,
			"status":      result.Metrics["status"],
			"duration_ms": result.Metrics["duration_ms"],
		})
		totalDuration += metricsDuration(result.Metrics).Milliseconds()

		if !outcome.passed {
			overallPassed = false
		}
		ectx.RememberStep(alias, result.ContextData)
	}

	rep.AttemptsUsed = totalAttempts
	rep.RequestPayload = map[string]any{"steps": requestSteps}
	rep.ResponseBody = map[string]any{"steps": responseSteps}
	rep.Assertions = assertionSteps
	rep.Metrics = map[string]any{
		"duration_ms": totalDuration,
		"steps":       metricSteps,
	}

	switch {
	case overallError != "":
		rep.ErrorMessage = overallError
		rep.Metrics["status"] = "error"
		r.finish(rep, report.StatusError)
	case overallPassed:
		rep.Metrics["status"] = "completed"
		r.finish(rep, report.StatusPassed)
	default:
		rep.Metrics["status"] = "completed"
		r.finish(rep, report.StatusFailed)
	}
	return nil
}

func transportRequest(outcome *stepOutcome) map[string]any {
	if outcome.transportErr != nil {
		return outcome.transportErr.RequestPayload
	}
	return nil
}

// mergeInputs overlays overrides onto base: sub-objects under the same key
// are updated key-by-key, everything else is replaced wholesale.
func mergeInputs(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range overrides {
		overrideMap, overrideIsMap := value.(map[string]any)
		baseMap, baseIsMap := merged[key].(map[string]any)
		if overrideIsMap && baseIsMap {
			nested := make(map[string]any, len(baseMap)+len(overrideMap))
			for k, v := range baseMap {
				nested[k] = v
			}
			for k, v := range overrideMap {
				nested[k] = v
			}
			merged[key] = nested
			continue
		}
		merged[key] = value
	}
	return merged
}
