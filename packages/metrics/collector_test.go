package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsPerHost(t *testing.T) {
	c := NewCollector()
	c.Record("api.example.com", 10*time.Millisecond, false)
	c.Record("api.example.com", 20*time.Millisecond, true)
	c.Record("other.example.com", 5*time.Millisecond, false)

	stats := c.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, "api.example.com", stats[0].Host)
	assert.Equal(t, int64(2), stats[0].Total)
	assert.Equal(t, int64(1), stats[0].Errors)
	assert.Equal(t, "other.example.com", stats[1].Host)
	assert.Equal(t, int64(1), stats[1].Total)
}

func TestCollectorPercentiles(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.Record("h", time.Duration(i)*time.Millisecond, false)
	}

	stats, ok := c.HostSnapshot("h")
	require.True(t, ok)
	assert.InDelta(t, 50*time.Millisecond, stats.P50, float64(2*time.Millisecond))
	assert.InDelta(t, 95*time.Millisecond, stats.P95, float64(2*time.Millisecond))
	assert.InDelta(t, 100*time.Millisecond, stats.Max, float64(2*time.Millisecond))
}

func TestCollectorEmptyHostDefaults(t *testing.T) {
	c := NewCollector()
	c.Record("", time.Millisecond, false)

	_, ok := c.HostSnapshot("default")
	assert.True(t, ok)
}

func TestCollectorClampsOutOfRangeLatency(t *testing.T) {
	c := NewCollector()
	c.Record("h", 0, false)
	c.Record("h", 10*time.Minute, false)

	stats, ok := c.HostSnapshot("h")
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Total)
	assert.LessOrEqual(t, stats.Max, 61*time.Second)
}

func TestHostSnapshotMissing(t *testing.T) {
	c := NewCollector()
	_, ok := c.HostSnapshot("nope")
	assert.False(t, ok)
}
