package casefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `
version: "1"
policy:
  name: staging
  retry_max_attempts: 4
  retry_backoff:
    strategy: exponential
    base_seconds: 0.5
    max_seconds: 10
  per_host_qps: 5
  tags_include: [smoke, write]
variables:
  host: api.test.local
redact:
  - authorization
  - token
cases:
  - name: list things
    tags: [smoke, read]
    inputs:
      method: GET
      url: https://{{variables.host}}/things
    assertions:
      - operator: status_code
        expected: 200
      - name: has items
        operator: jsonpath_equals
        path: $.items
        expected: null
        enabled: false
  - name: create thing
    tags: [write]
    variables:
      payload_name: widget
    inputs:
      method: POST
      url: https://{{variables.host}}/things
      json:
        name: "{{variables.payload_name}}"
    assertions:
      - operator: status_code
        expected: 201
suites:
  - name: crud flow
    tags: [smoke]
    variables:
      host: api.test.local
    steps:
      - alias: create
        case: create thing
      - alias: fetch
        case: list things
        inputs:
          params:
            page: "1"
        assertions:
          - operator: contains
            actual: "{{response.json}}"
            expected: widget
`

func writeDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidDocument(t *testing.T) {
	doc, err := Load(writeDocument(t, sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "1", doc.Version)
	assert.Equal(t, "api.test.local", doc.Variables["host"])
	assert.Equal(t, []string{"authorization", "token"}, doc.Redact)
	require.Len(t, doc.Cases, 2)
	require.Len(t, doc.Suites, 1)

	first := doc.Cases[0]
	assert.Equal(t, "list things", first.Name)
	assert.Equal(t, []string{"smoke", "read"}, first.Tags)
	require.Len(t, first.Assertions, 2)
	assert.Equal(t, "status_code", first.Assertions[0].Operator)
	assert.Equal(t, "$.items", first.Assertions[1].Path)
	require.NotNil(t, first.Assertions[1].Enabled)
	assert.False(t, *first.Assertions[1].Enabled)
}

func TestLoadPolicySnapshot(t *testing.T) {
	doc, err := Load(writeDocument(t, sampleDocument))
	require.NoError(t, err)

	snap, err := doc.PolicySnapshot()
	require.NoError(t, err)
	assert.Equal(t, "staging", snap.Name)
	assert.Equal(t, 4, snap.RetryMaxAttempts)
	assert.Equal(t, 0.5, snap.RetryBackoff.BaseSeconds)
	assert.Equal(t, 5.0, snap.PerHostQPS)
}

func TestLoadJSONFallback(t *testing.T) {
	// A JSON document is valid YAML, so the loader handles it directly.
	doc, err := Parse([]byte(`{"cases":[{"name":"ping","inputs":{"method":"GET","url":"https://x/ping"}}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Cases, 1)
	assert.Equal(t, "ping", doc.Cases[0].Name)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("cases:\n  - name: [unclosed"))
	assert.Error(t, err)
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	_, err := Parse([]byte(""))
	assert.Error(t, err)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	for name, content := range map[string]string{
		"case without url": `
cases:
  - name: broken
    inputs:
      method: GET
`,
		"assertion without operator": `
cases:
  - name: broken
    inputs:
      url: https://x/
    assertions:
      - expected: 200
`,
		"unknown top-level key": `
casez:
  - name: typo
`,
		"suite without steps": `
suites:
  - name: empty
    steps: []
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
		})
	}
}

func TestParseRejectsDuplicateCaseNames(t *testing.T) {
	_, err := Parse([]byte(`
cases:
  - name: same
    inputs: {url: "https://x/a"}
  - name: same
    inputs: {url: "https://x/b"}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate case name")
}

func TestParseRejectsUnknownStepReference(t *testing.T) {
	_, err := Parse([]byte(`
suites:
  - name: flow
    steps:
      - case: does not exist
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown case")
}

func TestParseRejectsStepWithoutCaseOrInputs(t *testing.T) {
	_, err := Parse([]byte(`
suites:
  - name: flow
    steps:
      - alias: bare
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a case reference or inputs")
}

func TestSuiteSpecResolvesReferences(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)

	spec, err := doc.SuiteSpec(&doc.Suites[0])
	require.NoError(t, err)
	assert.Equal(t, "crud flow", spec.Name)
	require.Len(t, spec.Steps, 2)

	create := spec.Steps[0]
	assert.Equal(t, "create", create.Alias)
	require.NotNil(t, create.Case)
	assert.Equal(t, "create thing", create.Case.Name)

	fetch := spec.Steps[1]
	require.NotNil(t, fetch.Case)
	assert.Equal(t, "list things", fetch.Case.Name)
	assert.Equal(t, map[string]any{"page": "1"}, fetch.Inputs["params"])
	require.Len(t, fetch.Assertions, 1)
	assert.Equal(t, "contains", fetch.Assertions[0].Operator)
}

func TestCaseSpecConversion(t *testing.T) {
	doc, err := Parse([]byte(sampleDocument))
	require.NoError(t, err)

	c, ok := doc.FindCase("create thing")
	require.True(t, ok)
	spec := c.CaseSpec()
	assert.Equal(t, "create thing", spec.Name)
	assert.Equal(t, "widget", spec.Variables["payload_name"])
	assert.Len(t, spec.Assertions, 1)
}

func TestMergeVariables(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	merged := MergeVariables(base, map[string]any{"b": 3, "c": 4})
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, 2, base["b"])
}

func TestMatchesTags(t *testing.T) {
	assert.True(t, MatchesTags([]string{"smoke"}, nil))
	assert.True(t, MatchesTags([]string{"smoke", "read"}, []string{"read"}))
	assert.False(t, MatchesTags([]string{"write"}, []string{"read"}))
	assert.False(t, MatchesTags(nil, []string{"read"}))
}
