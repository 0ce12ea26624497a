package assertions

// Operator is the closed catalog of assertion checks. Keeping it a tagged
// enum (rather than dispatching on raw strings) makes the handler set
// exhaustively checkable.
type Operator int

const (
	OpUnknown Operator = iota
	OpStatusCode
	OpEquals
	OpNotEquals
	OpContains
	OpNotContains
	OpRegex
	OpLength
	OpGreaterThan
	OpLessThan
	OpJSONPathEquals
	OpJSONPathContains
	OpExpr
)

var operatorNames = map[string]Operator{
	"status_code":       OpStatusCode,
	"equals":            OpEquals,
	"not_equals":        OpNotEquals,
	"contains":          OpContains,
	"not_contains":      OpNotContains,
	"regex":             OpRegex,
	"regex_match":       OpRegex,
	"length":            OpLength,
	"gt":                OpGreaterThan,
	"lt":                OpLessThan,
	"jsonpath_equals":   OpJSONPathEquals,
	"jsonpath_contains": OpJSONPathContains,
	"expr":              OpExpr,
}

// ParseOperator maps an operator string to its variant. Unknown strings
// map to OpUnknown; callers report those as failing results.
func ParseOperator(name string) Operator {
	op, ok := operatorNames[name]
	if !ok {
		return OpUnknown
	}
	return op
}
