package assertions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	diffMaxDepth   = 32
	diffMaxEntries = 250
	diffMaxChars   = 8000
	diffValueLimit = 160
)

// DiffEntry records one semantic difference between expected and actual.
// Change is one of "added", "removed", "changed", or "type".
type DiffEntry struct {
	Path     string `json:"path"`
	Change   string `json:"change"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

// Diff bundles the structured entries with a rendered unified-style text.
type Diff struct {
	Entries []DiffEntry `json:"entries"`
	Text    string      `json:"text,omitempty"`
}

// DiffJSON computes a semantic diff between two JSON-compatible values.
// Depth and entry counts are bounded so pathological payloads stay cheap.
func DiffJSON(expected, actual any) []DiffEntry {
	var entries []DiffEntry
	diffRecursive(expected, actual, "$", 0, &entries)
	return entries
}

// FormatDiff renders entries as "@@ path" blocks, truncated past a cap.
func FormatDiff(entries []DiffEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var lines []string
	for _, entry := range entries {
		lines = append(lines, "@@ "+entry.Path)
		switch entry.Change {
		case "added":
			lines = append(lines, "+ "+formatValue(entry.Actual))
		case "removed":
			lines = append(lines, "- "+formatValue(entry.Expected))
		case "type":
			lines = append(lines, "- type: "+jsonKind(entry.Expected))
			lines = append(lines, "+ type: "+jsonKind(entry.Actual))
		default:
			lines = append(lines, "- expected: "+formatValue(entry.Expected))
			lines = append(lines, "+ actual: "+formatValue(entry.Actual))
		}
	}
	text := strings.Join(lines, "\n")
	if len(text) > diffMaxChars {
		return text[:diffMaxChars] + "\n… diff truncated"
	}
	return text
}

func diffRecursive(expected, actual any, path string, depth int, entries *[]DiffEntry) {
	if len(*entries) >= diffMaxEntries {
		return
	}
	if depth >= diffMaxDepth {
		if !looseEqual(expected, actual) {
			*entries = append(*entries, DiffEntry{Path: path, Change: "changed", Expected: expected, Actual: actual})
		}
		return
	}

	if jsonKind(expected) != jsonKind(actual) {
		*entries = append(*entries, DiffEntry{Path: path, Change: "type", Expected: expected, Actual: actual})
		return
	}

	switch exp := expected.(type) {
	case map[string]any:
		act := actual.(map[string]any)
		for _, key := range sortedKeys(exp) {
			if _, present := act[key]; !present {
				*entries = append(*entries, DiffEntry{Path: extendPath(path, key), Change: "removed", Expected: exp[key]})
				if len(*entries) >= diffMaxEntries {
					return
				}
			}
		}
		for _, key := range sortedKeys(act) {
			if _, present := exp[key]; !present {
				*entries = append(*entries, DiffEntry{Path: extendPath(path, key), Change: "added", Actual: act[key]})
				if len(*entries) >= diffMaxEntries {
					return
				}
			}
		}
		for _, key := range sortedKeys(exp) {
			if other, present := act[key]; present {
				diffRecursive(exp[key], other, extendPath(path, key), depth+1, entries)
				if len(*entries) >= diffMaxEntries {
					return
				}
			}
		}
	case []any:
		act := actual.([]any)
		common := len(exp)
		if len(act) < common {
			common = len(act)
		}
		for i := 0; i < common; i++ {
			diffRecursive(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i), depth+1, entries)
			if len(*entries) >= diffMaxEntries {
				return
			}
		}
		for i := common; i < len(exp); i++ {
			*entries = append(*entries, DiffEntry{Path: fmt.Sprintf("%s[%d]", path, i), Change: "removed", Expected: exp[i]})
			if len(*entries) >= diffMaxEntries {
				return
			}
		}
		for i := common; i < len(act); i++ {
			*entries = append(*entries, DiffEntry{Path: fmt.Sprintf("%s[%d]", path, i), Change: "added", Actual: act[i]})
			if len(*entries) >= diffMaxEntries {
				return
			}
		}
	default:
		if !looseEqual(expected, actual) {
			*entries = append(*entries, DiffEntry{Path: path, Change: "changed", Expected: expected, Actual: actual})
		}
	}
}

func extendPath(base, key string) string {
	if isIdentifier(key) {
		return base + "." + key
	}
	escaped := strings.ReplaceAll(key, "'", "\\'")
	return base + "['" + escaped + "']"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func formatValue(v any) string {
	formatted := diffStringify(v)
	if len(formatted) <= diffValueLimit {
		return formatted
	}
	return formatted[:diffValueLimit-1] + "…"
}

func diffStringify(v any) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case bool:
		if value {
			return "true"
		}
		return "false"
	case string:
		if strings.Contains(value, "\n") || len(value) > diffValueLimit {
			encoded, _ := json.Marshal(value)
			return string(encoded)
		}
		return value
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// jsonKind names the JSON type of a value: null, boolean, number, string,
// array, or object. Numeric Go types all collapse to "number".
func jsonKind(v any) string {
	if v == nil {
		return "null"
	}
	if _, ok := v.(bool); ok {
		return "boolean"
	}
	if _, ok := asFloat(v); ok {
		return "number"
	}
	switch v.(type) {
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
