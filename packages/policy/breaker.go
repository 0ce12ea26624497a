package policy

import (
	"strings"
	"sync"
	"time"
)

// CircuitState is the failure-tracking state machine for one remote host.
// Failures are counted within a sliding window; reaching the threshold
// opens the breaker for the cooldown period. The breaker becomes eligible
// again purely by timeout (half-open by expiry, not by probe).
type CircuitState struct {
	mu          sync.Mutex
	threshold   int
	window      time.Duration
	cooldown    time.Duration
	failures    int
	windowStart time.Time
	openedUntil time.Time
	now         func() time.Time
}

func newCircuitState(threshold int, window, cooldown time.Duration) *CircuitState {
	if threshold < 1 {
		threshold = 1
	}
	if cooldown < time.Second {
		cooldown = time.Second
	}
	return &CircuitState{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// RecordFailure counts one failure and reports the cooldown remaining plus
// whether this failure opened the breaker. Failures older than the window
// no longer count toward the threshold.
func (c *CircuitState) RecordFailure() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.windowStart.IsZero() || (c.window > 0 && now.Sub(c.windowStart) > c.window) {
		c.windowStart = now
		c.failures = 0
	}
	c.failures++
	if c.failures >= c.threshold {
		c.failures = 0
		c.windowStart = time.Time{}
		c.openedUntil = now.Add(c.cooldown)
		return c.cooldown, true
	}
	return c.remainingLocked(now), false
}

// RecordSuccess closes the breaker and clears the failure window.
func (c *CircuitState) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.windowStart = time.Time{}
	c.openedUntil = time.Time{}
}

// Remaining returns how long until the breaker is eligible again, or zero
// when closed. An elapsed cooldown is cleared as a side effect.
func (c *CircuitState) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(c.now())
}

func (c *CircuitState) remainingLocked(now time.Time) time.Duration {
	if c.openedUntil.IsZero() {
		return 0
	}
	remaining := c.openedUntil.Sub(now)
	if remaining <= 0 {
		c.openedUntil = time.Time{}
		return 0
	}
	return remaining
}

// breakerRegistry holds one CircuitState per host key. The registry lock
// covers only map lookup/insert; each host locks independently so one
// misbehaving dependency never serializes the others.
type breakerRegistry struct {
	threshold int
	window    time.Duration
	cooldown  time.Duration

	mu    sync.Mutex
	hosts map[string]*CircuitState
}

func newBreakerRegistry(threshold int, window, cooldown time.Duration) *breakerRegistry {
	return &breakerRegistry{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		hosts:     make(map[string]*CircuitState),
	}
}

func (r *breakerRegistry) state(host string) *CircuitState {
	key := normalizeHost(host)
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.hosts[key]
	if !ok {
		state = newCircuitState(r.threshold, r.window, r.cooldown)
		r.hosts[key] = state
	}
	return state
}

func normalizeHost(host string) string {
	normalized := strings.ToLower(strings.TrimSpace(host))
	if normalized == "" {
		return "default"
	}
	return normalized
}
