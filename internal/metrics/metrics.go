// Package metrics holds the Prometheus instrumentation for the location
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refinement outcomes
const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
	OutcomeFailed  = "failed"
	OutcomeClosed  = "closed"
)

// Cache entry states
const (
	CacheFresh = "fresh"
	CacheStale = "stale"
)

// Pick results
const (
	PickHit   = "hit"
	PickMiss  = "miss"
	PickFlat  = "flat"
	PickError = "error"
)

var (
	// Refinement metrics
	RefineRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "locationbar",
		Subsystem: "refine",
		Name:      "requests_total",
		Help:      "Accurate height samples issued",
	})

	RefineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locationbar",
		Subsystem: "refine",
		Name:      "outcomes_total",
		Help:      "Completed accurate height samples by outcome",
	}, []string{"outcome"})

	RefineInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "locationbar",
		Subsystem: "refine",
		Name:      "in_flight",
		Help:      "Accurate height samples currently in flight",
	})

	RefineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "locationbar",
		Subsystem: "refine",
		Name:      "duration_seconds",
		Help:      "Latency of accurate height samples",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Pointer metrics
	Picks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locationbar",
		Subsystem: "pointer",
		Name:      "picks_total",
		Help:      "Pointer pick events by result",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "locationbar",
		Subsystem: "pointer",
		Name:      "active_sessions",
		Help:      "Connected pointer streaming sessions",
	})

	// Terrain service metrics
	TerrainRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "locationbar",
		Subsystem: "terrain",
		Name:      "requests_total",
		Help:      "Terrain service lookups by status",
	}, []string{"status"})

	TerrainCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "locationbar",
		Subsystem: "terrain",
		Name:      "cache_hits_total",
		Help:      "Terrain samples served from cache",
	})

	// Sample cache metrics
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "locationbar",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Cached terrain samples by freshness at the last cleanup",
	}, []string{"state"})

	CacheOldestEntryAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "locationbar",
		Subsystem: "cache",
		Name:      "oldest_entry_age_seconds",
		Help:      "Age of the oldest cached terrain sample at the last cleanup",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "locationbar",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Stale terrain samples removed by cleanup",
	})
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
