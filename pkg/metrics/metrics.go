package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue / coordinator metrics (§4.1)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deployd_queue_depth",
			Help: "Number of deployments currently queued, by source",
		},
		[]string{"source"},
	)

	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_deployments_total",
			Help: "Total number of deployments by source and terminal status",
		},
		[]string{"source", "status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployd_deployment_duration_seconds",
			Help:    "End-to-end deployment duration in seconds from dequeue to terminal status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"source"},
	)

	SupersededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_deployments_superseded_total",
			Help: "Total number of deployments cancelled as SUPERSEDED before entering MERGING",
		},
		[]string{"source"},
	)

	// Resolver metrics (§4.2)
	ResolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_resolver_duration_seconds",
			Help:    "Time taken to resolve the effective root set to pinned component versions",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResolverFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_resolver_failures_total",
			Help: "Total number of resolution failures by kind (NO_VIABLE_VERSION, CIRCULAR_DEPENDENCY, UNSUPPORTED_CAPABILITY)",
		},
		[]string{"kind"},
	)

	// Configuration store / merger metrics (§4.3)
	ConfigWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_config_writes_total",
			Help: "Total number of paths written to the configuration store",
		},
	)

	ValidationRoundTripDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_validation_round_trip_seconds",
			Help:    "Time taken for the dynamic validation protocol to collect all component responses",
			Buckets: prometheus.DefBuckets,
		},
	)

	ValidationRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_validation_rejections_total",
			Help: "Total number of deployments aborted by a REJECTED or timed-out validation response",
		},
	)

	// Lifecycle executor metrics (§4.4)
	ServiceStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_service_state_transitions_total",
			Help: "Total number of service lifecycle state transitions, by target state",
		},
		[]string{"state"},
	)

	LifecyclePhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deployd_lifecycle_phase_duration_seconds",
			Help:    "Time taken for a single lifecycle phase (install/start/stop/recover) to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	ServicesBrokenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_services_broken_total",
			Help: "Total number of services that exhausted their retry budget and transitioned to BROKEN",
		},
	)

	UpdateDeferralsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_update_deferrals_total",
			Help: "Total number of defer_component_update replies received during the update-disruption poll",
		},
	)

	// Rollback metrics (§4.5)
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_rollbacks_total",
			Help: "Total number of rollbacks by outcome (ROLLBACK_COMPLETE, ROLLBACK_INCOMPLETE)",
		},
		[]string{"outcome"},
	)

	// GC metrics (§4.6)
	GCReclaimedVersionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_gc_reclaimed_versions_total",
			Help: "Total number of (name, version) component directories removed by the GC sweep",
		},
	)

	GCSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_gc_sweep_duration_seconds",
			Help:    "Time taken for a single GC sweep over the component store",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IPC surface metrics (§4.7)
	IPCConnectedComponents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deployd_ipc_connected_components",
			Help: "Number of components currently holding an open IPC connection",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		DeploymentsTotal,
		DeploymentDuration,
		SupersededTotal,
		ResolverDuration,
		ResolverFailuresTotal,
		ConfigWritesTotal,
		ValidationRoundTripDuration,
		ValidationRejectionsTotal,
		ServiceStateTransitionsTotal,
		LifecyclePhaseDuration,
		ServicesBrokenTotal,
		UpdateDeferralsTotal,
		RollbacksTotal,
		GCReclaimedVersionsTotal,
		GCSweepDuration,
		IPCConnectedComponents,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
