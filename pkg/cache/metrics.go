package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_price_cache_hits_total",
		Help: "Total number of PriceProvider cache hits",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_price_cache_misses_total",
		Help: "Total number of PriceProvider cache misses",
	})

	CacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_price_cache_sets_total",
		Help: "Total number of PriceProvider cache sets",
	})

	CacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atomicexec_price_cache_deletes_total",
		Help: "Total number of PriceProvider cache deletes",
	})
)
