package execctx

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// QueryJSONPath evaluates a JSONPath expression against doc. Zero matches
// yield nil, one match the scalar, wildcard matches a list — mirroring
// how assertion results are compared downstream.
func QueryJSONPath(doc any, path string) (any, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("jsonpath expression is required")
	}
	if doc == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("jsonpath target is not JSON-compatible: %w", err)
	}

	gpath := translateJSONPath(trimmed)
	if gpath == "" {
		return gjson.ParseBytes(encoded).Value(), nil
	}
	// A trailing wildcard selects the array's elements. gjson's bare "#"
	// suffix would return the element count instead, so query the array
	// itself.
	if strings.HasSuffix(trimmed, "[*]") || strings.HasSuffix(trimmed, ".*") {
		parent := strings.TrimSuffix(strings.TrimSuffix(gpath, "#"), ".")
		result := gjson.ParseBytes(encoded)
		if parent != "" {
			result = gjson.GetBytes(encoded, parent)
		}
		if !result.Exists() || !result.IsArray() {
			return nil, nil
		}
		return result.Value(), nil
	}
	result := gjson.GetBytes(encoded, gpath)
	if !result.Exists() {
		return nil, nil
	}
	return result.Value(), nil
}

// LookupJSONPath is the lenient form used by template rendering: lookup
// problems surface as an unresolved placeholder, not an error.
func LookupJSONPath(doc any, path string) (any, bool) {
	value, err := QueryJSONPath(doc, path)
	if err != nil {
		return nil, false
	}
	return value, true
}

// translateJSONPath converts the narrow JSONPath surface actually used by
// case files ($.a.b[0].c, $.items[*].id) into gjson syntax.
func translateJSONPath(path string) string {
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")
	p = bracketIndex.ReplaceAllString(p, ".$1")
	p = strings.ReplaceAll(p, "[*]", ".#")
	p = strings.ReplaceAll(p, ".*", ".#")
	p = strings.ReplaceAll(p, "..", ".")
	return strings.Trim(p, ".")
}
