package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "naad_ingest"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingest subsystem.
type Metrics struct {
	FramesTotal        *prometheus.CounterVec // labels: stream
	DocumentsDiscarded *prometheus.CounterVec // labels: reason={parse,not_alert,duplicate,no_identifier}
	AlertsRejected     *prometheus.CounterVec // labels: stage
	AlertsAccepted     *prometheus.CounterVec // labels: source={stream,backfill,feed}
	AlertsQueued       *prometheus.CounterVec // labels: source={stream,backfill}
	HeartbeatsTotal    prometheus.Counter

	// Backfill metrics.
	BackfillRequests *prometheus.CounterVec // labels: outcome={success,failed,skipped}

	// Connection metrics.
	ConnectionStatus *prometheus.GaugeVec   // labels: stream; value is the status ordinal
	Reconnects       *prometheus.CounterVec // labels: stream

	IdentityCacheSize   prometheus.Gauge
	IdentityCacheResets prometheus.Counter
	QueueDepth          prometheus.Gauge

	SinkEvents        *prometheus.CounterVec // labels: sink={kafka,redis}, outcome={success,error}
	FeedFetchDuration prometheus.Histogram
}

// NewMetrics creates and registers all ingest metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FramesTotal,
		m.DocumentsDiscarded,
		m.AlertsRejected,
		m.AlertsAccepted,
		m.AlertsQueued,
		m.HeartbeatsTotal,
		m.BackfillRequests,
		m.ConnectionStatus,
		m.Reconnects,
		m.IdentityCacheSize,
		m.IdentityCacheResets,
		m.QueueDepth,
		m.SinkEvents,
		m.FeedFetchDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Complete alert documents sliced from stream connections.",
		}, []string{"stream"}),
		DocumentsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_discarded_total",
			Help:      "Documents dropped before filtering, by reason.",
		}, []string{"reason"}),
		AlertsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Alerts rejected by the filter pipeline, by stage.",
		}, []string{"stage"}),
		AlertsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_accepted_total",
			Help:      "Alerts that passed the filter pipeline, by delivery path.",
		}, []string{"source"}),
		AlertsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_queued_total",
			Help:      "Alerts appended to the alert queue, by delivery path.",
		}, []string{"source"}),
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat documents received.",
		}),
		BackfillRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_requests_total",
			Help:      "Backfill attempts by outcome.",
		}, []string{"outcome"}),
		ConnectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}, []string{"stream"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection attempts after the first, per stream.",
		}, []string{"stream"}),
		IdentityCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identity_cache_size",
			Help:      "Identifiers currently held in the identity cache.",
		}),
		IdentityCacheResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_cache_resets_total",
			Help:      "Times the identity cache overflowed and was cleared.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Alerts waiting in the queue.",
		}),
		SinkEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_events_total",
			Help:      "Events delivered to external sinks, by sink and outcome.",
		}, []string{"sink", "outcome"}),
		FeedFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of a periodic fetch across all configured feeds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}
