package assertions

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/casecraft/casecraft/packages/core/execctx"
)

// Assertion is one declarative check as stored on a case or suite step.
// Expected, Actual, and Path values may contain {{...}} templates.
type Assertion struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Operator string `json:"operator" yaml:"operator"`
	Expected any    `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty" yaml:"actual,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Result is the immutable outcome of evaluating one assertion.
type Result struct {
	Name     string `json:"name"`
	Operator string `json:"operator"`
	Passed   bool   `json:"passed"`
	Actual   any    `json:"actual"`
	Expected any    `json:"expected"`
	Message  string `json:"message,omitempty"`
	Path     string `json:"path,omitempty"`
	Diff     *Diff  `json:"diff,omitempty"`
}

// Engine evaluates assertion lists. Stateless and safe for concurrent use.
type Engine struct{}

// Evaluate runs every assertion against the captured response snapshot.
// A nil or empty list passes vacuously. The response snapshot becomes the
// context's current response so templates can reference it.
func (e Engine) Evaluate(defs []Assertion, responseCtx map[string]any, ectx *execctx.Context) (bool, []Result) {
	results := make([]Result, 0, len(defs))
	if len(defs) == 0 {
		return true, results
	}
	if ectx == nil {
		ectx = execctx.New(nil)
	}
	ectx.SetCurrentResponse(responseCtx)

	passed := true
	for i, def := range defs {
		result := e.evaluateOne(def, responseCtx, ectx, i)
		if !result.Passed {
			passed = false
			attachDiff(&result)
		}
		results = append(results, result)
	}
	return passed, results
}

func (e Engine) evaluateOne(def Assertion, responseCtx map[string]any, ectx *execctx.Context, index int) (result Result) {
	result = Result{
		Name:     assertionName(def, index),
		Operator: def.Operator,
		Path:     def.Path,
	}

	// Evaluation must be total over arbitrary definitions.
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Message = fmt.Sprintf("assertion evaluation failed: %v", r)
		}
	}()

	if def.Enabled != nil && !*def.Enabled {
		result.Passed = true
		result.Message = "assertion disabled, skipped"
		return result
	}

	operator := strings.ToLower(strings.TrimSpace(def.Operator))
	if operator == "" {
		result.Operator = "unknown"
		result.Message = "assertion operator is required"
		return result
	}

	switch ParseOperator(operator) {
	case OpStatusCode:
		return e.statusCode(def, responseCtx, ectx, result)
	case OpEquals:
		return e.equals(def, ectx, result, false)
	case OpNotEquals:
		return e.equals(def, ectx, result, true)
	case OpContains:
		return e.contains(def, ectx, result, false)
	case OpNotContains:
		return e.contains(def, ectx, result, true)
	case OpRegex:
		return e.regex(def, ectx, result)
	case OpLength:
		return e.length(def, ectx, result)
	case OpGreaterThan:
		return e.compareNumeric(def, ectx, result, ">")
	case OpLessThan:
		return e.compareNumeric(def, ectx, result, "<")
	case OpJSONPathEquals:
		return e.jsonpath(def, responseCtx, ectx, result, false)
	case OpJSONPathContains:
		return e.jsonpath(def, responseCtx, ectx, result, true)
	case OpExpr:
		return e.exprCheck(def, responseCtx, ectx, result)
	default:
		result.Message = fmt.Sprintf("unsupported assertion operator %q", operator)
		return result
	}
}

func (e Engine) statusCode(def Assertion, responseCtx map[string]any, ectx *execctx.Context, result Result) Result {
	expected := execctx.Render(def.Expected, ectx)
	result.Expected = expected

	expectedCode, err := toInt(expected)
	if err != nil {
		result.Message = fmt.Sprintf("expected status code must be an integer: %v", err)
		return result
	}
	var actual any
	if responseCtx != nil {
		actual = responseCtx["status_code"]
	}
	result.Actual = actual
	actualCode, err := toInt(actual)
	if err != nil {
		result.Message = "response has no status code"
		return result
	}
	if actualCode == expectedCode {
		result.Passed = true
		return result
	}
	result.Message = fmt.Sprintf("expected status %d, got %d", expectedCode, actualCode)
	return result
}

func (e Engine) equals(def Assertion, ectx *execctx.Context, result Result, negate bool) Result {
	actual := execctx.Render(def.Actual, ectx)
	expected := execctx.Render(def.Expected, ectx)
	result.Actual = actual
	result.Expected = expected

	equal := looseEqual(actual, expected)
	if equal != negate {
		result.Passed = true
		return result
	}
	if negate {
		result.Message = fmt.Sprintf("expected value to differ from %v", expected)
	} else {
		result.Message = fmt.Sprintf("expected %v, got %v", expected, actual)
	}
	return result
}

func (e Engine) contains(def Assertion, ectx *execctx.Context, result Result, negate bool) Result {
	actual := execctx.Render(def.Actual, ectx)
	expected := execctx.Render(def.Expected, ectx)
	result.Actual = actual
	result.Expected = expected

	found := containsValue(actual, expected)
	if found != negate {
		result.Passed = true
		return result
	}
	if negate {
		result.Message = fmt.Sprintf("unexpected value %v present", expected)
	} else {
		result.Message = fmt.Sprintf("expected %v to contain %v", actual, expected)
	}
	return result
}

func (e Engine) regex(def Assertion, ectx *execctx.Context, result Result) Result {
	actual := execctx.Render(def.Actual, ectx)
	pattern := execctx.Render(def.Expected, ectx)
	result.Actual = actual
	result.Expected = pattern

	actualStr, actualOK := actual.(string)
	patternStr, patternOK := pattern.(string)
	if !actualOK || !patternOK {
		result.Message = "regex requires string actual and expected values"
		return result
	}
	re, err := regexp.Compile(patternStr)
	if err != nil {
		result.Message = fmt.Sprintf("invalid regex pattern: %v", err)
		return result
	}
	if re.MatchString(actualStr) {
		result.Passed = true
		return result
	}
	result.Message = fmt.Sprintf("pattern %q did not match", patternStr)
	return result
}

func (e Engine) length(def Assertion, ectx *execctx.Context, result Result) Result {
	actual := execctx.Render(def.Actual, ectx)
	expected := execctx.Render(def.Expected, ectx)
	result.Expected = expected

	expectedLen, err := toLength(expected)
	if err != nil {
		result.Actual = actual
		result.Message = fmt.Sprintf("expected length must be an integer: %v", err)
		return result
	}
	actualLen, ok := computeLength(actual)
	if !ok {
		result.Actual = actual
		result.Message = fmt.Sprintf("cannot take length of %T", actual)
		return result
	}
	result.Actual = actualLen
	if actualLen == expectedLen {
		result.Passed = true
		return result
	}
	result.Message = fmt.Sprintf("expected length %d, got %d", expectedLen, actualLen)
	return result
}

func (e Engine) compareNumeric(def Assertion, ectx *execctx.Context, result Result, op string) Result {
	actual := execctx.Render(def.Actual, ectx)
	expected := execctx.Render(def.Expected, ectx)
	result.Actual = actual
	result.Expected = expected

	actualNum, err := toNumber(actual)
	if err != nil {
		result.Message = fmt.Sprintf("actual value is not numeric: %v", err)
		return result
	}
	expectedNum, err := toNumber(expected)
	if err != nil {
		result.Message = fmt.Sprintf("expected value is not numeric: %v", err)
		return result
	}

	var passed bool
	switch op {
	case ">":
		passed = actualNum > expectedNum
	case "<":
		passed = actualNum < expectedNum
	}
	if passed {
		result.Passed = true
		return result
	}
	result.Message = fmt.Sprintf("expected %v %s %v", actualNum, op, expectedNum)
	return result
}

func (e Engine) jsonpath(def Assertion, responseCtx map[string]any, ectx *execctx.Context, result Result, contains bool) Result {
	path, _ := execctx.Render(def.Path, ectx).(string)
	expected := execctx.Render(def.Expected, ectx)
	result.Path = path
	result.Expected = expected

	var body any
	if responseCtx != nil {
		body = responseCtx["json"]
	}
	actual, err := execctx.QueryJSONPath(body, path)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	result.Actual = actual

	if contains {
		if containsValue(actual, expected) {
			result.Passed = true
			return result
		}
		result.Message = "expected value not present in jsonpath result"
		return result
	}
	if looseEqual(actual, expected) {
		result.Passed = true
		return result
	}
	result.Message = fmt.Sprintf("jsonpath %s resolved to %v, expected %v", path, actual, expected)
	return result
}

func (e Engine) exprCheck(def Assertion, responseCtx map[string]any, ectx *execctx.Context, result Result) Result {
	source, ok := def.Expected.(string)
	if !ok || strings.TrimSpace(source) == "" {
		result.Message = "expr assertion requires a non-empty expression string"
		return result
	}
	result.Expected = source

	env := map[string]any{"vars": ectx.Variables}
	for _, key := range []string{"status_code", "headers", "body", "json"} {
		if responseCtx != nil {
			env[key] = responseCtx[key]
		} else {
			env[key] = nil
		}
	}

	out, err := expr.Eval(source, env)
	if err != nil {
		result.Message = fmt.Sprintf("expression error: %v", err)
		return result
	}
	passed, isBool := out.(bool)
	if !isBool {
		result.Message = fmt.Sprintf("expression must evaluate to bool, got %T", out)
		return result
	}
	result.Actual = passed
	result.Passed = passed
	if !passed {
		result.Message = fmt.Sprintf("expression %q evaluated to false", source)
	}
	return result
}

func assertionName(def Assertion, index int) string {
	if strings.TrimSpace(def.Name) != "" {
		return def.Name
	}
	return fmt.Sprintf("assertion_%d", index)
}

func attachDiff(result *Result) {
	if !isStructured(result.Expected) && !isStructured(result.Actual) {
		return
	}
	entries := DiffJSON(result.Expected, result.Actual)
	if len(entries) == 0 {
		return
	}
	result.Diff = &Diff{Entries: entries, Text: FormatDiff(entries)}
}

func isStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// looseEqual is structural equality with numeric normalization: 1 and 1.0
// compare equal, but strings and booleans never coerce to numbers.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aNum, aIsNum := asFloat(a)
	bNum, bIsNum := asFloat(b)
	if aIsNum || bIsNum {
		return aIsNum && bIsNum && aNum == bNum
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, item := range av {
			other, exists := bv[key]
			if !exists || !looseEqual(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, item := range av {
			if !looseEqual(item, bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func containsValue(actual, expected any) bool {
	switch av := actual.(type) {
	case nil:
		return expected == nil
	case string:
		return strings.Contains(av, stringify(expected))
	case []any:
		for _, item := range av {
			if looseEqual(item, expected) {
				return true
			}
		}
		return false
	default:
		return looseEqual(actual, expected)
	}
}

// asFloat reports numeric values only; bool and string are never numeric.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// toNumber coerces for ordered comparison. Booleans are rejected outright
// so true never sneaks in as 1; numeric strings are accepted.
func toNumber(v any) (float64, error) {
	if _, isBool := v.(bool); isBool {
		return 0, fmt.Errorf("boolean %v is not numeric", v)
	}
	if n, ok := asFloat(v); ok {
		return n, nil
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
		return 0, fmt.Errorf("%q is not numeric", s)
	}
	return 0, fmt.Errorf("%T is not numeric", v)
}

// toInt requires a value that is exactly an integer (integral floats and
// integral decimal strings qualify; "3.5" does not).
func toInt(v any) (int, error) {
	n, err := toNumber(v)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%v has a fractional part", v)
	}
	return int(n), nil
}

func toLength(v any) (int, error) {
	return toInt(v)
}

func computeLength(v any) (int, bool) {
	switch actual := v.(type) {
	case string:
		return len(actual), true
	case []any:
		return len(actual), true
	case map[string]any:
		return len(actual), true
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
			return rv.Len(), true
		default:
			return 0, false
		}
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
