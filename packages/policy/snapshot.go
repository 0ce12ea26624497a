package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackoffStrategy selects how retry delays grow with the attempt number.
type BackoffStrategy string

const (
	// StrategyExponential doubles the base delay each attempt, capped at MaxSeconds.
	StrategyExponential BackoffStrategy = "exponential"
	// StrategyExponentialJitter randomizes the exponential delay within ±JitterRatio of it.
	StrategyExponentialJitter BackoffStrategy = "exponential_jitter"
	// StrategyFullJitter draws uniformly in [0, exponential delay].
	StrategyFullJitter BackoffStrategy = "full_jitter"
)

// ErrTagsOverlap is returned when tags_include and tags_exclude share a tag.
var ErrTagsOverlap = errors.New("tags_include and tags_exclude must be disjoint")

const (
	defaultName             = "default"
	defaultBaseSeconds      = 1.5
	defaultMaxSeconds       = 30.0
	defaultJitterRatio      = 0.5
	defaultCooldownSeconds  = 30.0
	defaultRetryMaxAttempts = 3
	defaultTimeoutSeconds   = 30.0
	defaultCircuitThreshold = 5
	defaultCircuitWindow    = 60
	defaultPriority         = 5

	maxRetryAttempts = 10
	maxPriority      = 9
)

// RetryBackoff is the retry portion of a policy snapshot.
type RetryBackoff struct {
	Strategy          BackoffStrategy `json:"strategy" yaml:"strategy"`
	BaseSeconds       float64         `json:"base_seconds" yaml:"base_seconds"`
	MaxSeconds        float64         `json:"max_seconds" yaml:"max_seconds"`
	JitterRatio       float64         `json:"jitter_ratio" yaml:"jitter_ratio"`
	RetryOnAssertions bool            `json:"retry_on_assertions" yaml:"retry_on_assertions"`
	CooldownSeconds   float64         `json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// Snapshot is the immutable configuration governing one run. Zero values
// for MaxConcurrency and PerHostQPS mean "unbounded"/"unlimited".
type Snapshot struct {
	ID                          string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name                        string       `json:"name" yaml:"name"`
	MaxConcurrency              int          `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	PerHostQPS                  float64      `json:"per_host_qps,omitempty" yaml:"per_host_qps,omitempty"`
	Priority                    int          `json:"priority" yaml:"priority"`
	RetryMaxAttempts            int          `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBackoff                RetryBackoff `json:"retry_backoff" yaml:"retry_backoff"`
	TimeoutSeconds              float64      `json:"timeout_seconds" yaml:"timeout_seconds"`
	CircuitBreakerThreshold     int          `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerWindowSeconds int          `json:"circuit_breaker_window_seconds" yaml:"circuit_breaker_window_seconds"`
	TagsInclude                 []string     `json:"tags_include,omitempty" yaml:"tags_include,omitempty"`
	TagsExclude                 []string     `json:"tags_exclude,omitempty" yaml:"tags_exclude,omitempty"`
	Enabled                     bool         `json:"enabled" yaml:"enabled"`
}

// DefaultSnapshot returns the policy applied when a run has none attached.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Name:                        defaultName,
		Priority:                    defaultPriority,
		RetryMaxAttempts:            defaultRetryMaxAttempts,
		RetryBackoff:                defaultBackoff(),
		TimeoutSeconds:              defaultTimeoutSeconds,
		CircuitBreakerThreshold:     defaultCircuitThreshold,
		CircuitBreakerWindowSeconds: defaultCircuitWindow,
		Enabled:                     true,
	}
}

func defaultBackoff() RetryBackoff {
	return RetryBackoff{
		Strategy:        StrategyExponential,
		BaseSeconds:     defaultBaseSeconds,
		MaxSeconds:      defaultMaxSeconds,
		JitterRatio:     defaultJitterRatio,
		CooldownSeconds: defaultCooldownSeconds,
	}
}

// Key identifies the shared runtime state for this policy. Snapshots of
// the same stored policy share slots, limiters, and breakers.
func (s *Snapshot) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return defaultName + ":" + strings.ToLower(s.Name)
}

// Timeout is the per-request timeout as a duration.
func (s *Snapshot) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// Validate checks the invariants that coercion cannot repair.
func (s *Snapshot) Validate() error {
	if s.Name == "" {
		return errors.New("policy name is required")
	}
	if overlap := tagOverlap(s.TagsInclude, s.TagsExclude); overlap != "" {
		return fmt.Errorf("%w: %q appears in both", ErrTagsOverlap, overlap)
	}
	return nil
}

// SelectsTags reports whether an entity carrying tags is selected by the
// include/exclude sets. An empty include set selects everything not excluded.
func (s *Snapshot) SelectsTags(tags []string) bool {
	for _, tag := range tags {
		for _, excluded := range s.TagsExclude {
			if tag == excluded {
				return false
			}
		}
	}
	if len(s.TagsInclude) == 0 {
		return true
	}
	for _, tag := range tags {
		for _, included := range s.TagsInclude {
			if tag == included {
				return true
			}
		}
	}
	return false
}

// SnapshotFromMap builds a snapshot from loosely typed data (a stored
// policy row, a YAML document). Out-of-range values are clamped rather
// than rejected; only structural violations (overlapping tag sets) error.
// A nil payload yields the default snapshot.
func SnapshotFromMap(payload map[string]any) (*Snapshot, error) {
	if payload == nil {
		return DefaultSnapshot(), nil
	}

	snap := DefaultSnapshot()
	if id, ok := payload["id"].(string); ok {
		snap.ID = id
	}
	if name := coerceString(payload["name"]); name != "" {
		snap.Name = name
	}
	if v, ok := payload["max_concurrency"]; ok {
		if n := coerceInt(v, 0); n > 0 {
			snap.MaxConcurrency = n
		}
	}
	if v, ok := payload["per_host_qps"]; ok {
		if q := coerceFloat(v, 0); q > 0 {
			snap.PerHostQPS = q
		}
	}
	if v, ok := payload["priority"]; ok {
		snap.Priority = clampInt(coerceInt(v, defaultPriority), 0, maxPriority)
	}
	if v, ok := payload["retry_max_attempts"]; ok {
		snap.RetryMaxAttempts = clampInt(coerceInt(v, defaultRetryMaxAttempts), 1, maxRetryAttempts)
	}
	if v, ok := payload["timeout_seconds"]; ok {
		snap.TimeoutSeconds = maxFloat(1.0, coerceFloat(v, defaultTimeoutSeconds))
	}
	if v, ok := payload["circuit_breaker_threshold"]; ok {
		snap.CircuitBreakerThreshold = maxInt(1, coerceInt(v, defaultCircuitThreshold))
	}
	if v, ok := payload["circuit_breaker_window_seconds"]; ok {
		snap.CircuitBreakerWindowSeconds = maxInt(1, coerceInt(v, defaultCircuitWindow))
	}
	if v, ok := payload["enabled"]; ok {
		if b, isBool := v.(bool); isBool {
			snap.Enabled = b
		}
	}
	snap.TagsInclude = coerceStringSlice(payload["tags_include"])
	snap.TagsExclude = coerceStringSlice(payload["tags_exclude"])

	if raw, ok := payload["retry_backoff"].(map[string]any); ok {
		snap.RetryBackoff = resolveBackoff(raw)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func resolveBackoff(raw map[string]any) RetryBackoff {
	b := defaultBackoff()
	if v, ok := raw["strategy"]; ok {
		switch BackoffStrategy(coerceString(v)) {
		case StrategyExponentialJitter:
			b.Strategy = StrategyExponentialJitter
		case StrategyFullJitter:
			b.Strategy = StrategyFullJitter
		default:
			b.Strategy = StrategyExponential
		}
	}
	if v, ok := raw["base_seconds"]; ok {
		b.BaseSeconds = maxFloat(0.1, coerceFloat(v, defaultBaseSeconds))
	}
	if v, ok := raw["max_seconds"]; ok {
		b.MaxSeconds = coerceFloat(v, defaultMaxSeconds)
	}
	b.MaxSeconds = maxFloat(b.BaseSeconds, b.MaxSeconds)
	if v, ok := raw["jitter_ratio"]; ok {
		b.JitterRatio = clampFloat(coerceFloat(v, defaultJitterRatio), 0, 1)
	}
	if v, ok := raw["retry_on_assertions"]; ok {
		if flag, isBool := v.(bool); isBool {
			b.RetryOnAssertions = flag
		}
	}
	if v, ok := raw["cooldown_seconds"]; ok {
		b.CooldownSeconds = maxFloat(1.0, coerceFloat(v, defaultCooldownSeconds))
	}
	return b
}

func tagOverlap(include, exclude []string) string {
	for _, in := range include {
		for _, ex := range exclude {
			if in == ex {
				return in
			}
		}
	}
	return ""
}

func coerceString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func coerceFloat(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if strings.TrimSpace(n) == "" {
			return fallback
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return fallback
}

func coerceInt(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if strings.TrimSpace(n) == "" {
			return fallback
		}
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return fallback
}

func coerceStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if typed, isTyped := v.([]string); isTyped {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, isStr := item.(string); isStr && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
