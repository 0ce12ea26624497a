package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/casecraft/casecraft/packages/core/execctx"
)

const (
	// DefaultTimeout is the per-request timeout when the policy sets none.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBodyBytes caps captured request/response body text.
	DefaultMaxBodyBytes = 1 << 20
	// DefaultTransportAttempts bounds the executor's own socket-level retry
	// loop. This layer covers transient hiccups only; policy-driven retry
	// lives in the orchestrator.
	DefaultTransportAttempts = 3

	defaultBackoffFactor   = 0.5
	maxTransportBackoff    = 30 * time.Second
	defaultMaxIdleConns    = 100
	defaultIdleConnsPerHos = 10
	defaultIdleConnTimeout = 90 * time.Second
)

// Executor performs rendered HTTP calls under a byte cap and redaction
// contract. Construct once and share; it is safe for concurrent use.
type Executor struct {
	client        *http.Client
	timeout       time.Duration
	maxBodyBytes  int
	redactFields  map[string]struct{}
	placeholder   string
	maxAttempts   int
	backoffFactor float64
	retryStatuses map[int]struct{}
	retryMethods  map[string]struct{}
	sleep         func(time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxBodyBytes caps how much body text is captured before truncation.
func WithMaxBodyBytes(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxBodyBytes = n
		}
	}
}

// WithRedactedFields sets the sensitive field names (case-insensitive)
// masked in captured payloads.
func WithRedactedFields(names ...string) Option {
	return func(e *Executor) {
		e.redactFields = fieldSet(names)
	}
}

// WithRedactionPlaceholder overrides the mask written over redacted values.
func WithRedactionPlaceholder(placeholder string) Option {
	return func(e *Executor) {
		if placeholder != "" {
			e.placeholder = placeholder
		}
	}
}

// WithTransportAttempts bounds the executor's internal retry loop.
func WithTransportAttempts(n int) Option {
	return func(e *Executor) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// WithRetryStatuses sets which response statuses trigger a transport-level
// retry for retry-safe methods.
func WithRetryStatuses(statuses ...int) Option {
	return func(e *Executor) {
		e.retryStatuses = make(map[int]struct{}, len(statuses))
		for _, s := range statuses {
			e.retryStatuses[s] = struct{}{}
		}
	}
}

// WithRetryMethods sets which methods are considered retry-safe.
func WithRetryMethods(methods ...string) Option {
	return func(e *Executor) {
		e.retryMethods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			e.retryMethods[strings.ToUpper(m)] = struct{}{}
		}
	}
}

// WithHTTPClient substitutes the underlying client (tests, proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

// New builds an executor with the teacher-tuned transport defaults.
func New(opts ...Option) *Executor {
	e := &Executor{
		timeout:       DefaultTimeout,
		maxBodyBytes:  DefaultMaxBodyBytes,
		placeholder:   DefaultRedactionPlaceholder,
		maxAttempts:   DefaultTransportAttempts,
		backoffFactor: defaultBackoffFactor,
		retryStatuses: map[int]struct{}{429: {}, 500: {}, 502: {}, 503: {}, 504: {}},
		retryMethods: map[string]struct{}{
			"GET": {}, "HEAD": {}, "OPTIONS": {}, "PUT": {}, "DELETE": {},
		},
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultIdleConnsPerHos,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		}
	}
	return e
}

// Execute performs one rendered call. On success (any HTTP status) it
// returns a Result and records the response snapshot on ectx; on socket
// failure it returns a *TransportError carrying the partial payloads.
func (e *Executor) Execute(spec *RequestSpec, ectx *execctx.Context) (*Result, error) {
	if spec == nil || spec.URL == "" {
		return nil, fmt.Errorf("request spec requires a non-empty url")
	}
	if _, err := neturl.Parse(spec.URL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", spec.URL, err)
	}
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = "GET"
	}

	requestPayload := e.buildRequestPayload(method, spec)
	recordedRequest := e.sanitize(requestPayload)

	var (
		resp     *http.Response
		lastErr  error
		attempts int
	)
	start := time.Now()
	for attempts < e.maxAttempts {
		attempts++
		var err error
		resp, err = e.dispatch(method, spec)
		if err != nil {
			lastErr = err
			if attempts >= e.maxAttempts {
				break
			}
			e.sleep(e.transportBackoff(attempts))
			continue
		}
		if e.shouldRetryStatus(method, resp.StatusCode) && attempts < e.maxAttempts {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			resp = nil
			e.sleep(e.transportBackoff(attempts))
			continue
		}
		lastErr = nil
		break
	}
	durationMs := time.Since(start).Milliseconds()

	if resp == nil {
		metrics := map[string]any{
			"duration_ms":   durationMs,
			"status":        "network_error",
			"response_size": 0,
			"attempts":      attempts,
			"retries":       attempts - 1,
		}
		message := "http request failed"
		if lastErr != nil {
			message = lastErr.Error()
			metrics["error"] = lastErr.Error()
		}
		return nil, &TransportError{
			Message:        message,
			Err:            lastErr,
			RequestPayload: recordedRequest,
			Metrics:        metrics,
		}
	}
	defer resp.Body.Close()

	rawBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		metrics := map[string]any{
			"duration_ms":   durationMs,
			"status":        "network_error",
			"response_size": len(rawBody),
			"attempts":      attempts,
			"retries":       attempts - 1,
			"error":         readErr.Error(),
		}
		return nil, &TransportError{
			Message:        fmt.Sprintf("reading response body: %v", readErr),
			Err:            readErr,
			RequestPayload: recordedRequest,
			Metrics:        metrics,
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	bodyText := string(rawBody)
	truncated, isTruncated, note := truncateText(bodyText, e.maxBodyBytes)
	bodyPayload := map[string]any{"text": truncated, "truncated": isTruncated}
	if note != "" {
		bodyPayload["note"] = note
	}

	responsePayload := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        bodyPayload,
	}

	var bodyJSON any
	if err := json.Unmarshal(rawBody, &bodyJSON); err == nil {
		responsePayload["json"] = bodyJSON
	} else {
		bodyJSON = nil
	}

	contextData := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        bodyText,
		"json":        bodyJSON,
	}
	if ectx != nil {
		ectx.SetCurrentResponse(contextData)
	}

	return &Result{
		RequestPayload:  recordedRequest,
		ResponsePayload: e.sanitize(responsePayload),
		Metrics: map[string]any{
			"duration_ms":   durationMs,
			"status":        "completed",
			"status_code":   resp.StatusCode,
			"response_size": len(rawBody),
			"attempts":      attempts,
			"retries":       attempts - 1,
		},
		ContextData: contextData,
	}, nil
}

func (e *Executor) dispatch(method string, spec *RequestSpec) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	target := spec.URL
	if len(spec.Params) > 0 {
		parsed, err := neturl.Parse(spec.URL)
		if err != nil {
			return nil, err
		}
		query := parsed.Query()
		for key, value := range spec.Params {
			query.Set(key, value)
		}
		parsed.RawQuery = query.Encode()
		target = parsed.String()
	}

	var body io.Reader
	contentType := ""
	switch {
	case spec.JSON != nil:
		encoded, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, fmt.Errorf("encoding json body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case spec.Body != "":
		body = strings.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	return e.client.Do(req)
}

func (e *Executor) buildRequestPayload(method string, spec *RequestSpec) map[string]any {
	payload := map[string]any{
		"method": method,
		"url":    spec.URL,
	}
	if len(spec.Headers) > 0 {
		payload["headers"] = spec.Headers
	}
	if len(spec.Params) > 0 {
		payload["params"] = spec.Params
	}
	if spec.JSON != nil {
		payload["json"] = spec.JSON
	} else if spec.Body != "" {
		text, isTruncated, note := truncateText(spec.Body, e.maxBodyBytes)
		bodyPayload := map[string]any{"text": text, "truncated": isTruncated}
		if note != "" {
			bodyPayload["note"] = note
		}
		payload["body"] = bodyPayload
	}
	return payload
}

func (e *Executor) sanitize(payload map[string]any) map[string]any {
	sanitized, _ := redact(payload, e.redactFields, e.placeholder).(map[string]any)
	if sanitized == nil {
		return payload
	}
	return sanitized
}

func (e *Executor) shouldRetryStatus(method string, status int) bool {
	if _, retryable := e.retryStatuses[status]; !retryable {
		return false
	}
	if len(e.retryMethods) == 0 {
		return true
	}
	_, safe := e.retryMethods[method]
	return safe
}

func (e *Executor) transportBackoff(attempt int) time.Duration {
	delay := e.backoffFactor * float64(uint(1)<<uint(attempt-1))
	d := time.Duration(delay * float64(time.Second))
	if d > maxTransportBackoff {
		return maxTransportBackoff
	}
	return d
}

// truncateText caps text at limit bytes, flagging the cut and noting the
// original size. Truncation is never an error.
func truncateText(text string, limit int) (string, bool, string) {
	if limit <= 0 || len(text) <= limit {
		return text, false, ""
	}
	cut := limit
	// Back off only when the cut splits a multi-byte rune; invalid bytes
	// earlier in the body (binary payloads) are preserved verbatim.
	for cut > 0 && limit-cut < utf8.UTFMax-1 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	note := fmt.Sprintf("body truncated to %d bytes from %d bytes", limit, len(text))
	return text[:cut], true, note
}
