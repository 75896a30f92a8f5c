package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the cache counters, exposed to
// the presentation layer via GetMetrics.
type Snapshot struct {
	HitCount           int64
	MissCount          int64
	TotalQueries       int64
	AverageQueryMillis float64
	LastCleanup        time.Time
	Ready              bool
}

// SuccessRate is the fraction of queries answered from the cache.
func (s Snapshot) SuccessRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(s.TotalQueries)
}

// Monitor accumulates cache counters with plain atomics so the read
// path never blocks on metrics upkeep.
type Monitor struct {
	hits        atomic.Int64
	misses      atomic.Int64
	queries     atomic.Int64
	durationUS  atomic.Int64 // total query time, microseconds
	lastCleanup atomic.Int64 // unix millis, 0 = never
	ready       atomic.Bool
}

// NewMonitor creates a zeroed monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// RecordQuery accounts one read query. hit=false marks a read failure
// that fell through to the network.
func (m *Monitor) RecordQuery(d time.Duration, hit bool) {
	m.queries.Add(1)
	m.durationUS.Add(d.Microseconds())
	if hit {
		m.hits.Add(1)
		CacheHitsTotal.Inc()
	} else {
		m.misses.Add(1)
		CacheMissesTotal.Inc()
	}
	CacheQueriesTotal.Inc()
	CacheQueryDurationTotal.Add(d.Seconds())
}

// SetReady flips the readiness flag once the store completed open().
func (m *Monitor) SetReady(ready bool) {
	m.ready.Store(ready)
}

// Ready reports whether the store completed open().
func (m *Monitor) Ready() bool {
	return m.ready.Load()
}

// SetLastCleanup records the most recent retention sweep.
func (m *Monitor) SetLastCleanup(t time.Time) {
	if t.IsZero() {
		m.lastCleanup.Store(0)
		return
	}
	m.lastCleanup.Store(t.UnixMilli())
}

// Snapshot returns a copy of the current counters.
func (m *Monitor) Snapshot() Snapshot {
	queries := m.queries.Load()
	var avg float64
	if queries > 0 {
		avg = float64(m.durationUS.Load()) / float64(queries) / 1000.0
	}
	var cleanup time.Time
	if ms := m.lastCleanup.Load(); ms > 0 {
		cleanup = time.UnixMilli(ms)
	}
	return Snapshot{
		HitCount:           m.hits.Load(),
		MissCount:          m.misses.Load(),
		TotalQueries:       queries,
		AverageQueryMillis: avg,
		LastCleanup:        cleanup,
		Ready:              m.ready.Load(),
	}
}
