package policy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiters enforces per_host_qps with one token bucket per host.
// Instead of rejecting, it hands the caller the wait required before
// dispatching; the caller owns the sleep.
type hostLimiters struct {
	qps   float64
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

func newHostLimiters(qps float64) *hostLimiters {
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}
	return &hostLimiters{
		qps:   qps,
		burst: burst,
		hosts: make(map[string]*rate.Limiter),
	}
}

// delay reserves one dispatch slot for host and returns how long the
// caller must wait to honor it. rate.Limiter is internally synchronized,
// so the registry lock covers only map access.
func (l *hostLimiters) delay(host string) time.Duration {
	key := normalizeHost(host)
	l.mu.Lock()
	limiter, ok := l.hosts[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.qps), l.burst)
		l.hosts[key] = limiter
	}
	l.mu.Unlock()

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return 0
	}
	return reservation.Delay()
}
