package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process transition labels
const (
	ActionSpawn     = "spawn"
	ActionTerminate = "terminate"
	ActionRestart   = "restart"
	ActionReload    = "reload"
	ActionFailed    = "failed"
)

// Fetch result labels
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// Instance metrics
	InstancesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxyworld_instances_running",
			Help: "Number of engine processes recorded as running",
		},
	)

	InstanceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxyworld_instance_up",
			Help: "Whether the engine of an instance is alive (1 = alive, 0 = not running)",
		},
		[]string{"instance"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proxyworld_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxyworld_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes",
		},
	)

	ProcessTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyworld_process_transitions_total",
			Help: "Total number of engine process transitions by action",
		},
		[]string{"action"},
	)

	// Generation and cache metrics
	GenerationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxyworld_generation_errors_total",
			Help: "Total number of instances whose config could not be generated",
		},
	)

	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxyworld_fetch_total",
			Help: "Total number of subscription fetches by kind and result",
		},
		[]string{"kind", "result"},
	)

	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxyworld_fetch_duration_seconds",
			Help:    "Subscription fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxyworld_cache_entries",
			Help: "Number of cached subscriptions by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(InstancesRunning)
	prometheus.MustRegister(InstanceUp)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ProcessTransitionsTotal)
	prometheus.MustRegister(GenerationErrorsTotal)
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(CacheEntries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux serves metrics and the health endpoints on one mux
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}
