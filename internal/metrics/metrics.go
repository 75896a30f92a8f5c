// Package metrics tracks cache health: prometheus collectors for
// operators and an in-process Monitor snapshot for the UI layer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the cache engine. Registered by the daemon; tests use
// the package-level vars directly.
var (
	CacheQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_queries_total",
		Help: "Cumulative number of cache read queries.",
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_hits_total",
		Help: "Cumulative number of cache queries answered from the store.",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_misses_total",
		Help: "Cumulative number of cache queries that failed and fell through to the network.",
	})
	CacheQueryDurationTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_query_duration_seconds_total",
		Help: "Cumulative number of seconds spent in cache read queries.",
	})
	WriteUnitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_write_units_total",
		Help: "Cumulative number of serialized write units executed.",
	})
	WriteRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_write_retries_total",
		Help: "Cumulative number of write retries after storage contention.",
	})
	WriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_write_failures_total",
		Help: "Cumulative number of write units rejected after exhausting retries.",
	})
	SweepDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msgcache_sweep_deleted_rows_total",
		Help: "Cumulative number of rows removed by the retention sweeper.",
	})
)

// Register adds every cache collector to the given registry.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		CacheQueriesTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheQueryDurationTotal,
		WriteUnitsTotal,
		WriteRetriesTotal,
		WriteFailuresTotal,
		SweepDeletedTotal,
	)
}
