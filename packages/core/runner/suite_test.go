package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casecraft/casecraft/packages/core/execctx"
	"github.com/casecraft/casecraft/packages/httpexec"
	"github.com/casecraft/casecraft/packages/progress"
	"github.com/casecraft/casecraft/packages/report"
)

func TestRunSuiteAllStepsPass(t *testing.T) {
	executor := &stubExecutor{fn: func(int, *httpexec.RequestSpec, *execctx.Context) (*httpexec.Result, error) {
		return okResult(200, "{}"), nil
	}}
	pub := &recordingPublisher{}
	r := newTestRunner(executor, pub)

	suite := &SuiteSpec{
		Name: "smoke",
		Steps: []SuiteStep{
			{Alias: "login", Case: caseSpec(statusAssertion(200))},
			{Alias: "fetch", Case: caseSpec(statusAssertion(200))},
		},
	}
	rep := report.New("r1", "smoke")
	require.NoError(t, r.RunSuite(rep, suite, testSnapshot(t, nil)))

	assert.Equal(t, report.StatusPassed, rep.Status)
	steps := rep.RequestPayload["steps"].([]map[string]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "login", steps[0]["alias"])
	assert.Equal(t, "fetch", steps[1]["alias"])
}

func TestRunSuiteAssertionFailureContinues(t *testing.T) {
	executor := &stubExecutor{fn: func(call int, _ *httpexec.RequestSpec, _ *execctx.Context) (*httpexec.Result, error) {
		if call == 1 {
			return okResult(500, ""), nil
		}
		return okResult(200, "{}"), nil
	}}
	r := newTestRunner(executor, &recordingPublisher{})

	suite := &SuiteSpec{
		Name: "continue-on-failure",
		Steps: []SuiteStep{
			{Alias: "broken", Case: caseSpec(statusAssertion(200))},
			{Alias: "healthy", Case: caseSpec(statusAssertion(200))},
		},
	}
	rep := report.New("r1", "continue-on-failure")
	require.NoError(t, r.RunSuite(rep, suite, testSnapshot(t, nil)))

	// Both steps executed; the failed assertion marks the suite FAILED.
	assert.Equal(t, report.StatusFailed, rep.Status)
	assert.Equal(t, 2, executor.calls)
	require.Len(t, rep.Assertions, 2)
	assert.Equal(t, false, rep.Assertions[0]["passed"])
	assert.Equal(t, true, rep.Assertions[1]["passed"])
}

func TestRunSuiteTransportExhaustionAborts(t *testing.T) {
	executor := &stubExecutor{fn: func(int, *httpexec.RequestSpec, *execctx.Context) (*httpexec.Result, error) {
		return nil, transportFailure("dial timeout")
	}}
	r := newTestRunner(executor, &recordingPublisher{})

	suite := &SuiteSpec{
		Name: "abort-on-transport",
		Steps: []SuiteStep{
			{Alias: "first", Case: caseSpec(statusAssertion(200))},
			{Alias: "never-runs", Case: caseSpec(statusAssertion(200))},
		},
	}
	rep := report.New("r1", "abort-on-transport")
	snap := testSnapshot(t, map[string]any{"retry_max_attempts": 2})
	require.NoError(t, r.RunSuite(rep, suite, snap))

	assert.Equal(t, report.StatusError, rep.Status)
	assert.Equal(t, "dial timeout", rep.ErrorMessage)
	// Only the first step ran (twice, for its transport retries).
	assert.Equal(t, 2, executor.calls)
	steps := rep.RequestPayload["steps"].([]map[string]any)
	require.Len(t, steps, 1)
	assert.Equal(t, "first", steps[0]["alias"])
}

func TestRunSuiteStepHistoryFlowsBetweenSteps(t *testing.T) {
	var secondURL string
	executor := &stubExecutor{fn: func(call int, spec *httpexec.RequestSpec, ectx *execctx.Context) (*httpexec.Result, error) {
		if call == 1 {
			result := okResult(200, `{"token":"abc123"}`)
			result.ContextData["json"] = map[string]any{"token": "abc123"}
			return result, nil
		}
		secondURL = spec.URL
		return okResult(200, "{}"), nil
	}}
	r := newTestRunner(executor, &recordingPublisher{})

	suite := &SuiteSpec{
		Name: "chained",
		Steps: []SuiteStep{
			{
				Alias: "auth",
				Inputs: map[string]any{
					"method": "POST",
					"url":    "https://api.test.local/login",
				},
			},
			{
				Alias: "fetch",
				Inputs: map[string]any{
					"method": "GET",
					"url":    "https://api.test.local/me?token={{prev.auth.json.token}}",
				},
			},
		},
	}
	rep := report.New("r1", "chained")
	require.NoError(t, r.RunSuite(rep, suite, testSnapshot(t, nil)))

	assert.Equal(t, report.StatusPassed, rep.Status)
	assert.Equal(t, "https://api.test.local/me?token=abc123", secondURL)
}

func TestRunSuiteStepVariablesUpdateContext(t *testing.T) {
	var seenURL string
	executor := &stubExecutor{fn: func(_ int, spec *httpexec.RequestSpec, _ *execctx.Context) (*httpexec.Result, error) {
		seenURL = spec.URL
		return okResult(200, "{}"), nil
	}}
	r := newTestRunner(executor, &recordingPublisher{})

	suite := &SuiteSpec{
		Name:      "vars",
		Variables: map[string]any{"env": "staging"},
		Steps: []SuiteStep{
			{
				Alias:     "only",
				Variables: map[string]any{"region": "eu", "host": "{{variables.env}}.test.local"},
				Inputs: map[string]any{
					"method": "GET",
					"url":    "https://{{variables.host}}/r/{{variables.region}}",
				},
			},
		},
	}
	rep := report.New("r1", "vars")
	require.NoError(t, r.RunSuite(rep, suite, testSnapshot(t, nil)))
	assert.Equal(t, "https://staging.test.local/r/eu", seenURL)
}

func TestRunSuiteStepProgressCarriesAlias(t *testing.T) {
	executor := &stubExecutor{fn: func(int, *httpexec.RequestSpec, *execctx.Context) (*httpexec.Result, error) {
		return okResult(200, "{}"), nil
	}}
	pub := &recordingPublisher{}
	r := newTestRunner(executor, pub)

	suite := &SuiteSpec{
		Name:  "aliased",
		Steps: []SuiteStep{{Case: caseSpec(statusAssertion(200))}},
	}
	rep := report.New("r1", "aliased")
	require.NoError(t, r.RunSuite(rep, suite, testSnapshot(t, nil)))

	var sawStepEvent bool
	for _, event := range pub.events {
		if event.Type == progress.EventStepProgress {
			sawStepEvent = true
			assert.Equal(t, "step_1", event.StepAlias)
		}
	}
	assert.True(t, sawStepEvent)
}

func TestMergeInputs(t *testing.T) {
	base := map[string]any{
		"method": "POST",
		"url":    "https://api.test.local/login",
		"headers": map[string]any{
			"Accept":       "application/json",
			"X-Request-ID": "base",
		},
	}
	overrides := map[string]any{
		"url": "https://override.test.local/login",
		"headers": map[string]any{
			"X-Request-ID": "override",
		},
	}

	merged := mergeInputs(base, overrides)

	assert.Equal(t, "POST", merged["method"])
	assert.Equal(t, "https://override.test.local/login", merged["url"])
	// Nested objects merge key-by-key instead of replacing wholesale.
	headers := merged["headers"].(map[string]any)
	assert.Equal(t, "application/json", headers["Accept"])
	assert.Equal(t, "override", headers["X-Request-ID"])

	// The base is never mutated.
	assert.Equal(t, "base", base["headers"].(map[string]any)["X-Request-ID"])
}

func TestMergeInputsScalarReplacesDict(t *testing.T) {
	base := map[string]any{"body": map[string]any{"a": 1}}
	merged := mergeInputs(base, map[string]any{"body": "raw"})
	assert.Equal(t, "raw", merged["body"])
}
