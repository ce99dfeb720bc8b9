package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// report sync service.
type Metrics struct {
	ReportsEnqueued prometheus.Counter
	ReportsSynced   prometheus.Counter
	ReportsFailed   prometheus.Counter
	QueueDepth      *prometheus.GaugeVec // labels: state={active,failed}
	StorageErrors   prometheus.Counter

	// Sync pass metrics.
	SyncPasses       *prometheus.CounterVec // labels: outcome={completed,skipped,offline}
	SyncPassDuration prometheus.Histogram
	SyncInFlight     prometheus.Gauge
	TriggersDropped  prometheus.Counter

	// Submission metrics.
	SubmitDuration prometheus.Histogram
	SubmitErrors   *prometheus.CounterVec // labels: class={transient,terminal}

	// Reachability metrics.
	Online      prometheus.Gauge
	ProbeErrors prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReportsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "reports_enqueued_total",
			Help:      "Total reports accepted into the pending queue.",
		}),
		ReportsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "reports_synced_total",
			Help:      "Total reports acknowledged by the hazard sink and removed from the queue.",
		}),
		ReportsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "reports_failed_total",
			Help:      "Total reports marked failed after exhausting retries or being rejected.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "report_sync",
			Name:      "queue_depth",
			Help:      "Current queue entries by state (active = pending or syncing).",
		}, []string{"state"}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "storage_errors_total",
			Help:      "Total local store failures, including storage-full conditions.",
		}),
		SyncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "sync_passes_total",
			Help:      "Sync passes by outcome.",
		}, []string{"outcome"}),
		SyncPassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "report_sync",
			Name:      "sync_pass_duration_seconds",
			Help:      "Duration of a complete sync pass.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SyncInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "report_sync",
			Name:      "sync_in_flight",
			Help:      "1 while a sync pass is running, 0 otherwise.",
		}),
		TriggersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "triggers_dropped_total",
			Help:      "Sync triggers dropped because a pass was already running.",
		}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "report_sync",
			Name:      "submit_duration_seconds",
			Help:      "Duration of a single report submission attempt.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}),
		SubmitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "submit_errors_total",
			Help:      "Submission attempt failures by class.",
		}, []string{"class"}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "report_sync",
			Name:      "online",
			Help:      "1 when the last reachability probe succeeded, 0 otherwise.",
		}),
		ProbeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "report_sync",
			Name:      "probe_errors_total",
			Help:      "Total failed reachability probes.",
		}),
	}

	prometheus.MustRegister(
		m.ReportsEnqueued,
		m.ReportsSynced,
		m.ReportsFailed,
		m.QueueDepth,
		m.StorageErrors,
		m.SyncPasses,
		m.SyncPassDuration,
		m.SyncInFlight,
		m.TriggersDropped,
		m.SubmitDuration,
		m.SubmitErrors,
		m.Online,
		m.ProbeErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReportsEnqueued:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "report_sync", Name: "reports_enqueued_total"}),
		ReportsSynced:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "report_sync", Name: "reports_synced_total"}),
		ReportsFailed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "report_sync", Name: "reports_failed_total"}),
		QueueDepth:       prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "report_sync", Name: "queue_depth"}, []string{"state"}),
		StorageErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "report_sync", Name: "storage_errors_total"}),
		SyncPasses:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "report_sync", Name: "sync_passes_total"}, []string{"outcome"}),
		SyncPassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "report_sync", Name: "sync_pass_duration_seconds"}),
		SyncInFlight:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "report_sync", Name: "sync_in_flight"}),
		TriggersDropped:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "report_sync", Name: "triggers_dropped_total"}),
		SubmitDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "report_sync", Name: "submit_duration_seconds"}),
		SubmitErrors:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "report_sync", Name: "submit_errors_total"}, []string{"class"}),
		Online:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "report_sync", Name: "online"}),
		ProbeErrors:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "report_sync", Name: "probe_errors_total"}),
	}
}
