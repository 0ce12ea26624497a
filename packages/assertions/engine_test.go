package assertions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casecraft/casecraft/packages/core/execctx"
)

func responseFixture() map[string]any {
	return map[string]any{
		"status_code": 200,
		"headers":     map[string]string{"Content-Type": "application/json"},
		"body":        `{"id":7,"name":"widget","tags":["a","b"]}`,
		"json": map[string]any{
			"id":   float64(7),
			"name": "widget",
			"tags": []any{"a", "b"},
		},
	}
}

func TestEvaluateEmptyListPasses(t *testing.T) {
	engine := Engine{}
	passed, results := engine.Evaluate(nil, responseFixture(), execctx.New(nil))
	assert.True(t, passed)
	assert.Empty(t, results)
}

func TestStatusCode(t *testing.T) {
	engine := Engine{}

	passed, results := engine.Evaluate([]Assertion{
		{Operator: "status_code", Expected: 200},
	}, responseFixture(), execctx.New(nil))
	require.Len(t, results, 1)
	assert.True(t, passed)
	assert.True(t, results[0].Passed)

	passed, results = engine.Evaluate([]Assertion{
		{Operator: "status_code", Expected: "201"},
	}, responseFixture(), execctx.New(nil))
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "expected status 201")

	// Non-integral expected is a failing result, not a panic.
	passed, results = engine.Evaluate([]Assertion{
		{Operator: "status_code", Expected: "two hundred"},
	}, responseFixture(), execctx.New(nil))
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "must be an integer")
}

func TestEqualsNumericNormalization(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(nil)

	passed, _ := engine.Evaluate([]Assertion{
		{Operator: "equals", Actual: 1, Expected: float64(1)},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Strings and booleans never coerce to numbers.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "equals", Actual: "1", Expected: 1},
	}, responseFixture(), ectx)
	assert.False(t, passed)

	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "equals", Actual: true, Expected: 1},
	}, responseFixture(), ectx)
	assert.False(t, passed)
}

func TestEqualsRendersTemplates(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(map[string]any{"expected_name": "widget"})

	passed, results := engine.Evaluate([]Assertion{
		{
			Operator: "equals",
			Actual:   "{{response.json.name}}",
			Expected: "{{variables.expected_name}}",
		},
	}, responseFixture(), ectx)
	require.Len(t, results, 1)
	assert.True(t, passed)
	assert.Equal(t, "widget", results[0].Actual)
}

func TestNotEquals(t *testing.T) {
	engine := Engine{}
	passed, results := engine.Evaluate([]Assertion{
		{Operator: "not_equals", Actual: "a", Expected: "a"},
	}, responseFixture(), execctx.New(nil))
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "differ")
}

func TestContainsVariants(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(nil)

	// Substring on strings.
	passed, _ := engine.Evaluate([]Assertion{
		{Operator: "contains", Actual: "hello world", Expected: "world"},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Membership on lists.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "contains", Actual: []any{1, 2, 3}, Expected: 2},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Anything else degrades to equality.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "contains", Actual: 5, Expected: 5},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Nil actual only contains nil.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "contains", Actual: nil, Expected: "x"},
	}, responseFixture(), ectx)
	assert.False(t, passed)

	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "not_contains", Actual: []any{"a"}, Expected: "b"},
	}, responseFixture(), ectx)
	assert.True(t, passed)
}

func TestRegex(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(nil)

	passed, _ := engine.Evaluate([]Assertion{
		{Operator: "regex", Actual: "order-12345", Expected: `^order-\d+$`},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// regex_match is an alias.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "regex_match", Actual: "order-12345", Expected: `\d{5}`},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Invalid pattern is a failing result with a message.
	passed, results := engine.Evaluate([]Assertion{
		{Operator: "regex", Actual: "abc", Expected: "("},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "invalid regex")

	// Non-string operands fail rather than stringify.
	passed, results = engine.Evaluate([]Assertion{
		{Operator: "regex", Actual: 42, Expected: `\d+`},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "requires string")
}

func TestLength(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(nil)

	passed, results := engine.Evaluate([]Assertion{
		{Operator: "length", Actual: []any{"a", "b", "c"}, Expected: 3},
	}, responseFixture(), ectx)
	assert.True(t, passed)
	assert.Equal(t, 3, results[0].Actual)

	// Integral string expected is accepted; fractional is not.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "length", Actual: "abc", Expected: "3"},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	passed, results = engine.Evaluate([]Assertion{
		{Operator: "length", Actual: "abc", Expected: "3.5"},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "must be an integer")

	passed, results = engine.Evaluate([]Assertion{
		{Operator: "length", Actual: 12, Expected: 2},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "cannot take length")
}

func TestNumericComparisons(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(nil)

	passed, _ := engine.Evaluate([]Assertion{
		{Operator: "gt", Actual: 10, Expected: "9.5"},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "lt", Actual: 1, Expected: 2},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Booleans are rejected, never treated as 0/1.
	passed, results := engine.Evaluate([]Assertion{
		{Operator: "gt", Actual: true, Expected: 0},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "not numeric")
}

func TestJSONPathOperators(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(nil)

	passed, results := engine.Evaluate([]Assertion{
		{Operator: "jsonpath_equals", Path: "$.name", Expected: "widget"},
	}, responseFixture(), ectx)
	require.Len(t, results, 1)
	assert.True(t, passed)
	assert.Equal(t, "widget", results[0].Actual)

	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "jsonpath_contains", Path: "$.tags", Expected: "b"},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	// Missing path resolves to nil; equals against nil passes.
	passed, _ = engine.Evaluate([]Assertion{
		{Operator: "jsonpath_equals", Path: "$.missing", Expected: nil},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	passed, results = engine.Evaluate([]Assertion{
		{Operator: "jsonpath_equals", Path: "$.missing", Expected: "x"},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Nil(t, results[0].Actual)
}

func TestExprOperator(t *testing.T) {
	engine := Engine{}
	ectx := execctx.New(map[string]any{"limit": 10})

	passed, _ := engine.Evaluate([]Assertion{
		{Operator: "expr", Expected: "status_code == 200 && json.id < vars.limit"},
	}, responseFixture(), ectx)
	assert.True(t, passed)

	passed, results := engine.Evaluate([]Assertion{
		{Operator: "expr", Expected: "json.id"},
	}, responseFixture(), ectx)
	assert.False(t, passed)
	assert.Contains(t, results[0].Message, "must evaluate to bool")
}

func TestDisabledAssertionSkips(t *testing.T) {
	engine := Engine{}
	disabled := false
	passed, results := engine.Evaluate([]Assertion{
		{Operator: "equals", Actual: 1, Expected: 2, Enabled: &disabled},
	}, responseFixture(), execctx.New(nil))
	require.Len(t, results, 1)
	assert.True(t, passed)
	assert.True(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "skipped")
}

func TestUnknownOperatorFailsWithoutError(t *testing.T) {
	engine := Engine{}
	passed, results := engine.Evaluate([]Assertion{
		{Name: "bogus", Operator: "approximately"},
	}, responseFixture(), execctx.New(nil))
	require.Len(t, results, 1)
	assert.False(t, passed)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "unsupported assertion operator")
}

func TestMissingOperatorFails(t *testing.T) {
	engine := Engine{}
	passed, results := engine.Evaluate([]Assertion{
		{Name: "no-op"},
	}, responseFixture(), execctx.New(nil))
	assert.False(t, passed)
	assert.Equal(t, "assertion operator is required", results[0].Message)
}

func TestAllAssertionsEvaluatedDespiteFailures(t *testing.T) {
	engine := Engine{}
	passed, results := engine.Evaluate([]Assertion{
		{Operator: "equals", Actual: 1, Expected: 2},
		{Operator: "status_code", Expected: 200},
		{Operator: "equals", Actual: "a", Expected: "a"},
	}, responseFixture(), execctx.New(nil))
	assert.False(t, passed)
	require.Len(t, results, 3)
	assert.False(t, results[0].Passed)
	assert.True(t, results[1].Passed)
	assert.True(t, results[2].Passed)
}

func TestDefaultNamesAreStable(t *testing.T) {
	engine := Engine{}
	_, results := engine.Evaluate([]Assertion{
		{Operator: "status_code", Expected: 200},
		{Name: "explicit", Operator: "status_code", Expected: 200},
	}, responseFixture(), execctx.New(nil))
	require.Len(t, results, 2)
	assert.Equal(t, "assertion_0", results[0].Name)
	assert.Equal(t, "explicit", results[1].Name)
}

func TestDiffAttachedOnStructuredFailure(t *testing.T) {
	engine := Engine{}
	passed, results := engine.Evaluate([]Assertion{
		{
			Operator: "equals",
			Actual:   map[string]any{"id": 1, "name": "a"},
			Expected: map[string]any{"id": 2, "name": "a"},
		},
		{
			Operator: "equals",
			Actual:   map[string]any{"id": 1},
			Expected: map[string]any{"id": 1},
		},
	}, responseFixture(), execctx.New(nil))
	assert.False(t, passed)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Diff)
	assert.NotEmpty(t, results[0].Diff.Entries)
	assert.Nil(t, results[1].Diff)
}
