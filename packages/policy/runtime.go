package policy

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Shared state keyed by Snapshot.Key so every run under the same policy
// draws from the same slots, buckets, and breakers. Entries are rebuilt
// when the policy's capacity or rate changes between runs.
var (
	sharedMu       sync.Mutex
	sharedSems     = make(map[string]*semaphore)
	sharedLimiters = make(map[string]*hostLimiters)
	sharedBreakers = make(map[string]*breakerRegistry)
)

type semaphore struct {
	capacity int
	slots    chan struct{}
}

// Runtime enforces one policy snapshot. Safe for concurrent use from many
// simultaneous runs; all mutable state lives in the shared registries.
type Runtime struct {
	snapshot *Snapshot
	sem      *semaphore
	limiters *hostLimiters
	breakers *breakerRegistry
}

// NewRuntime resolves (or creates) the shared enforcement state for snap.
func NewRuntime(snap *Snapshot) *Runtime {
	rt := &Runtime{snapshot: snap}
	key := snap.Key()

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if snap.MaxConcurrency > 0 {
		sem, ok := sharedSems[key]
		if !ok || sem.capacity != snap.MaxConcurrency {
			sem = &semaphore{
				capacity: snap.MaxConcurrency,
				slots:    make(chan struct{}, snap.MaxConcurrency),
			}
			sharedSems[key] = sem
		}
		rt.sem = sem
	}

	if snap.PerHostQPS > 0 {
		limiters, ok := sharedLimiters[key]
		if !ok || !closeEnough(limiters.qps, snap.PerHostQPS) {
			limiters = newHostLimiters(snap.PerHostQPS)
			sharedLimiters[key] = limiters
		}
		rt.limiters = limiters
	}

	if snap.CircuitBreakerThreshold > 0 {
		window := time.Duration(snap.CircuitBreakerWindowSeconds) * time.Second
		cooldown := time.Duration(snap.RetryBackoff.CooldownSeconds * float64(time.Second))
		breakers, ok := sharedBreakers[key]
		if !ok || breakers.threshold != snap.CircuitBreakerThreshold || breakers.window != window || breakers.cooldown != cooldown {
			breakers = newBreakerRegistry(snap.CircuitBreakerThreshold, window, cooldown)
			sharedBreakers[key] = breakers
		}
		rt.breakers = breakers
	}

	return rt
}

// Snapshot returns the policy this runtime enforces.
func (r *Runtime) Snapshot() *Snapshot {
	return r.snapshot
}

// AcquireSlot blocks until a concurrency slot is free and returns its
// release. The release is safe to call more than once and must run even
// when the attempt fails or panics (callers defer it). A policy without
// max_concurrency hands out no-op permits.
func (r *Runtime) AcquireSlot() (release func()) {
	if r.sem == nil {
		return func() {}
	}
	r.sem.slots <- struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() { <-r.sem.slots })
	}
}

// RateLimitDelay returns how long the caller must wait before dispatching
// to host. It never blocks and never rejects.
func (r *Runtime) RateLimitDelay(host string) time.Duration {
	if r.limiters == nil {
		return 0
	}
	return r.limiters.delay(host)
}

// CircuitRemaining returns zero when the breaker for host is closed or
// eligible again, otherwise the time until eligibility.
func (r *Runtime) CircuitRemaining(host string) time.Duration {
	if r.breakers == nil {
		return 0
	}
	return r.breakers.state(host).Remaining()
}

// RecordFailure counts a failure against host's breaker, returning the
// cooldown remaining and whether this failure opened the breaker.
func (r *Runtime) RecordFailure(host string) (time.Duration, bool) {
	if r.breakers == nil {
		return 0, false
	}
	return r.breakers.state(host).RecordFailure()
}

// RecordSuccess closes host's breaker and resets its failure count.
func (r *Runtime) RecordSuccess(host string) {
	if r.breakers == nil {
		return
	}
	r.breakers.state(host).RecordSuccess()
}

// BackoffDelay computes the sleep before retry number attempt (1-based).
// The deterministic exponential value is min(base·2^(attempt−1), max);
// jittered strategies randomize around or under it but never exceed max.
func (r *Runtime) BackoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	b := r.snapshot.RetryBackoff
	computed := b.BaseSeconds * math.Pow(2, float64(attempt-1))
	if computed > b.MaxSeconds {
		computed = b.MaxSeconds
	}

	seconds := computed
	switch b.Strategy {
	case StrategyExponentialJitter:
		if span := computed * b.JitterRatio; span > 0 {
			seconds = computed + (rand.Float64()*2-1)*span
		}
	case StrategyFullJitter:
		seconds = rand.Float64() * computed
	}

	if seconds < 0 {
		seconds = 0
	}
	if seconds > b.MaxSeconds {
		seconds = b.MaxSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
