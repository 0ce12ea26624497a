package httpexec

import (
	"fmt"
	"net/url"
	"strings"
)

// RequestSpec is a fully rendered HTTP call: template interpolation has
// already happened by the time a spec reaches the executor.
type RequestSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	JSON    any    // structured body, marshaled as application/json
	Body    string // raw body, used when JSON is nil
}

// SpecFromInputs converts a rendered inputs map (the declarative shape
// stored on a case) into a RequestSpec.
func SpecFromInputs(inputs map[string]any) (*RequestSpec, error) {
	rawURL, _ := inputs["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("request spec requires a non-empty url")
	}

	spec := &RequestSpec{
		Method:  "GET",
		URL:     rawURL,
		Headers: stringMap(inputs["headers"]),
		Params:  stringMap(inputs["params"]),
	}
	if method, ok := inputs["method"].(string); ok && method != "" {
		spec.Method = strings.ToUpper(method)
	}

	if body, ok := inputs["json"]; ok {
		spec.JSON = body
	} else if body, ok := inputs["body"]; ok {
		switch b := body.(type) {
		case map[string]any, []any:
			spec.JSON = b
		case string:
			spec.Body = b
		case nil:
		default:
			spec.Body = fmt.Sprintf("%v", b)
		}
	}
	return spec, nil
}

func stringMap(value any) map[string]string {
	raw, ok := value.(map[string]any)
	if !ok {
		if typed, isTyped := value.(map[string]string); isTyped {
			return typed
		}
		return nil
	}
	out := make(map[string]string, len(raw))
	for key, item := range raw {
		if item == nil {
			continue
		}
		out[key] = fmt.Sprintf("%v", item)
	}
	return out
}

// HostOf extracts the normalized host key used for per-host policy state.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "default"
	}
	return strings.ToLower(parsed.Hostname())
}

// Result is a captured step execution. Any HTTP status counts as a result;
// judging acceptability is the assertion engine's job.
type Result struct {
	RequestPayload  map[string]any
	ResponsePayload map[string]any
	Metrics         map[string]any
	ContextData     map[string]any
}

// TransportError reports a socket-level failure (timeout, refused
// connection, DNS). It always carries the partial request payload and
// metrics captured before the failure so diagnostics survive.
type TransportError struct {
	Message         string
	Err             error
	RequestPayload  map[string]any
	ResponsePayload map[string]any
	Metrics         map[string]any
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
