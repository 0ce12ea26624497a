// Package metrics aggregates per-host latency and outcome counters across
// executed requests.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// histogram range: 1us to 60s, 3 significant digits
const (
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
)

// Collector tracks latency distributions per target host. Safe for
// concurrent use.
type Collector struct {
	mu    sync.RWMutex
	hosts map[string]*hostMetrics
}

type hostMetrics struct {
	histogram *hdrhistogram.Histogram
	total     int64
	errors    int64
}

// HostStats is a point-in-time summary for one host.
type HostStats struct {
	Host    string        `json:"host"`
	Total   int64         `json:"total"`
	Errors  int64         `json:"errors"`
	P50     time.Duration `json:"p50_ns"`
	P95     time.Duration `json:"p95_ns"`
	P99     time.Duration `json:"p99_ns"`
	Max     time.Duration `json:"max_ns"`
	Mean    time.Duration `json:"mean_ns"`
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{hosts: make(map[string]*hostMetrics)}
}

// Record adds one request outcome for host. Latencies clamp into the
// histogram's trackable range.
func (c *Collector) Record(host string, duration time.Duration, failed bool) {
	if host == "" {
		host = "default"
	}

	latencyUs := duration.Microseconds()
	if latencyUs < minLatencyUs {
		latencyUs = minLatencyUs
	}
	if latencyUs > maxLatencyUs {
		latencyUs = maxLatencyUs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	hm, ok := c.hosts[host]
	if !ok {
		hm = &hostMetrics{histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)}
		c.hosts[host] = hm
	}
	hm.total++
	if failed {
		hm.errors++
	}
	_ = hm.histogram.RecordValue(latencyUs)
}

// Snapshot returns per-host stats sorted by host name.
func (c *Collector) Snapshot() []HostStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]HostStats, 0, len(c.hosts))
	for host, hm := range c.hosts {
		stats = append(stats, HostStats{
			Host:   host,
			Total:  hm.total,
			Errors: hm.errors,
			P50:    time.Duration(hm.histogram.ValueAtQuantile(50)) * time.Microsecond,
			P95:    time.Duration(hm.histogram.ValueAtQuantile(95)) * time.Microsecond,
			P99:    time.Duration(hm.histogram.ValueAtQuantile(99)) * time.Microsecond,
			Max:    time.Duration(hm.histogram.Max()) * time.Microsecond,
			Mean:   time.Duration(hm.histogram.Mean()) * time.Microsecond,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Host < stats[j].Host })
	return stats
}

// HostSnapshot returns stats for one host and whether it has any samples.
func (c *Collector) HostSnapshot(host string) (HostStats, bool) {
	for _, stats := range c.Snapshot() {
		if stats.Host == host {
			return stats, true
		}
	}
	return HostStats{}, false
}
