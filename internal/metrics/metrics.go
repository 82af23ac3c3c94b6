// Package metrics holds the Prometheus instrumentation for provider traffic,
// caching and recommendation runs. A CLI run has no scrape endpoint, so the
// registry can be written to a node_exporter textfile instead.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider traffic
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatfinder_provider_requests_total",
			Help: "Provider calls by endpoint kind and outcome (ok, not_found, error)",
		},
		[]string{"kind", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beatfinder_provider_request_duration_seconds",
			Help:    "Duration of a single provider round-trip",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatfinder_provider_retries_total",
			Help: "Retries of transient provider failures",
		},
		[]string{"kind"},
	)

	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatfinder_rate_limit_wait_seconds",
			Help:    "Time spent waiting for rate limiter admission",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beatfinder_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatfinder_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Cache
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatfinder_cache_lookups_total",
			Help: "Provider cache lookups by endpoint kind and result (hit, miss)",
		},
		[]string{"kind", "result"},
	)

	CacheFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatfinder_cache_flushes_total",
			Help: "Cache flushes to durable storage by result (ok, error)",
		},
		[]string{"result"},
	)

	CacheEntriesFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beatfinder_cache_entries_flushed_total",
			Help: "Cache entries written to durable storage",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatfinder_cache_entries",
			Help: "Entries held in the in-memory provider cache",
		},
	)

	// Runs
	SkippedArtists = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatfinder_skipped_artists_total",
			Help: "Artists skipped after a failed fetch, by phase",
		},
		[]string{"phase"},
	)

	Candidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatfinder_candidates",
			Help: "Unique candidates collected in the last run",
		},
	)

	Recommendations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatfinder_recommendations",
			Help: "Recommendations emitted by the last run",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beatfinder_run_phase_duration_seconds",
			Help:    "Duration of each recommendation phase",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)
)

// WriteTextfile writes the default registry to path in the Prometheus text
// format, for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
