package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	Registry *prometheus.Registry

	EventsPublished  *prometheus.CounterVec
	EventsProcessed  *prometheus.CounterVec
	ProcessDuration  prometheus.Histogram
	PluginFaults     *prometheus.CounterVec
	ModuleLoads      *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	ModuleSizeBytes  prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sluice",
				Name:      "events_published_total",
				Help:      "Events offered to the queue by admission status.",
			},
			[]string{"status"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sluice",
				Name:      "events_processed_total",
				Help:      "Events that completed the plugin chain by decision.",
			},
			[]string{"decision"},
		),

		ProcessDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sluice",
				Name:      "event_processing_duration_seconds",
				Help:      "Time one event spends in the full plugin chain.",
				Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),

		PluginFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sluice",
				Name:      "plugin_faults_total",
				Help:      "Plugin invocation failures by reason.",
			},
			[]string{"reason"},
		),

		ModuleLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sluice",
				Name:      "module_loads_total",
				Help:      "Plugin module load attempts by outcome.",
			},
			[]string{"status"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sluice",
				Subsystem: "admin",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		ModuleSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sluice",
				Name:      "module_size_bytes",
				Help:      "Size of submitted plugin modules in bytes.",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.EventsPublished,
		m.EventsProcessed,
		m.ProcessDuration,
		m.PluginFaults,
		m.ModuleLoads,
		m.RequestsInFlight,
		m.ModuleSizeBytes,
	)

	return m
}

// ObserveEngine registers collectors that read live engine state on
// scrape. Call once after the engine is constructed.
func (m *Metrics) ObserveEngine(queueDepth func() int, queueCap int, hostCalls func() uint64, plugins func() int) {
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sluice",
			Name:      "queue_depth",
			Help:      "Events waiting in the queue.",
		}, func() float64 { return float64(queueDepth()) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sluice",
			Name:      "queue_capacity",
			Help:      "Fixed queue capacity.",
		}, func() float64 { return float64(queueCap) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sluice",
			Name:      "host_calls_total",
			Help:      "Host calls served across all plugins.",
		}, func() float64 { return float64(hostCalls()) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sluice",
			Name:      "plugins_loaded",
			Help:      "Plugins currently registered.",
		}, func() float64 { return float64(plugins()) }),
	)
}

// RecordPublish records one queue admission attempt.
func (m *Metrics) RecordPublish(accepted bool) {
	status := "accepted"
	if !accepted {
		status = "rejected_full"
	}
	m.EventsPublished.WithLabelValues(status).Inc()
}

// RecordEvent records a completed plugin chain pass.
func (m *Metrics) RecordEvent(allowed bool, durationSec float64) {
	decision := "allowed"
	if !allowed {
		decision = "dropped"
	}
	m.EventsProcessed.WithLabelValues(decision).Inc()
	m.ProcessDuration.Observe(durationSec)
}

// RecordFault records a plugin invocation failure by reason.
func (m *Metrics) RecordFault(reason string) {
	m.PluginFaults.WithLabelValues(reason).Inc()
}

// RecordLoad records a plugin module load attempt.
func (m *Metrics) RecordLoad(status string, sizeBytes int) {
	m.ModuleLoads.WithLabelValues(status).Inc()
	if sizeBytes > 0 {
		m.ModuleSizeBytes.Observe(float64(sizeBytes))
	}
}
