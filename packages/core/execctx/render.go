package execctx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
	wholePattern       = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
	jsonpathCall       = regexp.MustCompile(`^jsonpath\((['"])(.+)(['"])\)$`)
)

// Render recursively resolves {{path.to.value}} placeholders in value.
// Strings are scanned for placeholders; maps and slices are walked;
// everything else passes through unchanged. A string that is exactly one
// placeholder resolves to the referenced value with its type preserved.
func Render(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return renderString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = Render(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Render(item, ctx)
		}
		return out
	default:
		return value
	}
}

func renderString(template string, ctx *Context) any {
	if !strings.Contains(template, "{{") || !strings.Contains(template, "}}") {
		return template
	}

	if m := wholePattern.FindStringSubmatch(template); m != nil {
		resolved, ok := resolveExpression(m[1], ctx)
		if !ok {
			return template
		}
		return resolved
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		resolved, ok := resolveExpression(expr, ctx)
		if !ok {
			return match
		}
		if resolved == nil {
			return ""
		}
		return fmt.Sprintf("%v", resolved)
	})
}

func resolveExpression(expr string, ctx *Context) (any, bool) {
	segments := splitPath(strings.TrimSpace(expr))
	if len(segments) == 0 {
		return nil, false
	}

	switch segments[0] {
	case "variables":
		return traverse(ctx.Variables, segments[1:])
	case "response":
		if ctx.CurrentResponse == nil {
			return nil, false
		}
		return traverse(ctx.CurrentResponse, segments[1:])
	case "prev":
		if len(segments) < 2 {
			return nil, false
		}
		step, ok := ctx.StepHistory[segments[1]]
		if !ok {
			return nil, false
		}
		return traverse(step, segments[2:])
	default:
		// Bare paths fall back to variables.
		return traverse(ctx.Variables, segments)
	}
}

// splitPath splits a dotted expression into segments while keeping a
// jsonpath('...') call intact even when its expression contains dots.
func splitPath(expr string) []string {
	var segments []string
	rest := expr
	for rest != "" {
		if strings.HasPrefix(rest, "jsonpath(") {
			end := strings.Index(rest, ")")
			if end == -1 {
				segments = append(segments, rest)
				break
			}
			segments = append(segments, rest[:end+1])
			rest = strings.TrimPrefix(rest[end+1:], ".")
			continue
		}
		dot := strings.Index(rest, ".")
		if dot == -1 {
			segments = append(segments, rest)
			break
		}
		segments = append(segments, rest[:dot])
		rest = rest[dot+1:]
	}
	out := segments[:0]
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func traverse(data any, segments []string) (any, bool) {
	current := data
	for i, segment := range segments {
		if current == nil {
			return nil, false
		}
		if m := jsonpathCall.FindStringSubmatch(segment); m != nil && m[1] == m[3] {
			target := current
			// Response snapshots keep the decoded body under "json".
			if asMap, ok := current.(map[string]any); ok {
				if body, hasJSON := asMap["json"]; hasJSON {
					target = body
				}
			}
			value, ok := LookupJSONPath(target, m[2])
			if !ok || i != len(segments)-1 {
				return value, ok && i == len(segments)-1
			}
			return value, true
		}
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil {
				return nil, false
			}
			if index < 0 {
				index += len(node)
			}
			if index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}
