package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solar_analyses_total",
		Help: "Completed analyses by verdict",
	}, []string{"verdict", "confidence"})
	AnalysisErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solar_analysis_errors_total",
		Help: "Failed analyses by error code",
	}, []string{"code"})
	AnalysisDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "solar_analysis_duration_seconds",
		Help:    "End-to-end analysis duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})
	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solar_provider_requests_total",
		Help: "Upstream provider calls by outcome",
	}, []string{"provider", "outcome"})
	ProviderDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "solar_provider_duration_seconds",
		Help:    "Upstream provider call duration",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solar_cache_lookups_total",
		Help: "Provider response cache lookups by result",
	}, []string{"provider", "result"})
	CircuitBreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "solar_circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"name", "from", "to"})
)

func init() {
	prometheus.MustRegister(AnalysesTotal)
	prometheus.MustRegister(AnalysisErrorsTotal)
	prometheus.MustRegister(AnalysisDurationSeconds)
	prometheus.MustRegister(ProviderRequestsTotal)
	prometheus.MustRegister(ProviderDurationSeconds)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(CircuitBreakerTransitions)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
