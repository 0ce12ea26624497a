package httpexec

import "strings"

// DefaultRedactionPlaceholder replaces redacted values in payloads.
const DefaultRedactionPlaceholder = "***"

// redact returns a copy of data with every value under a sensitive key
// (matched case-insensitively, at any depth) replaced by the placeholder.
// No unredacted sensitive value may appear in a payload returned by this
// package; this runs on both request and response payloads.
func redact(data any, fields map[string]struct{}, placeholder string) any {
	if len(fields) == 0 {
		return data
	}
	switch node := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for key, value := range node {
			if _, sensitive := fields[strings.ToLower(key)]; sensitive {
				out[key] = placeholder
				continue
			}
			out[key] = redact(value, fields, placeholder)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(node))
		for key, value := range node {
			if _, sensitive := fields[strings.ToLower(key)]; sensitive {
				out[key] = placeholder
				continue
			}
			out[key] = value
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = redact(item, fields, placeholder)
		}
		return out
	default:
		return data
	}
}

func fieldSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}
