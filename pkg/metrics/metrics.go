// Package metrics exposes Prometheus collectors for the link logger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messagesSkipped  prometheus.Counter
	urlsDetected     *prometheus.CounterVec
	urlInserts       *prometheus.CounterVec
	insertDuration   prometheus.Histogram
	queueDepth       prometheus.Gauge
	workspacesUp     prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linklog_messages_received_total",
				Help: "Message events dequeued by the processor, labeled by workspace.",
			},
			[]string{"workspace"},
		),
		messagesSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linklog_messages_skipped_total",
				Help: "Message events skipped for lacking a channel or text.",
			},
		),
		urlsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linklog_urls_detected_total",
				Help: "URLs matched in message text, labeled by workspace.",
			},
			[]string{"workspace"},
		),
		urlInserts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linklog_url_inserts_total",
				Help: "URL log inserts, labeled by status.",
			},
			[]string{"status"},
		),
		insertDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linklog_url_insert_duration_seconds",
				Help:    "Histogram of URL log insert latencies.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "linklog_queue_depth",
				Help: "Message events waiting in the fan-in queue.",
			},
		),
		workspacesUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "linklog_workspaces_connected",
				Help: "Workspace connections currently being served.",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an http.Handler for exposing the collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MessageReceived(workspace string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(workspace).Inc()
}

func (m *Metrics) MessageSkipped() {
	if m == nil {
		return
	}
	m.messagesSkipped.Inc()
}

func (m *Metrics) URLDetected(workspace string) {
	if m == nil {
		return
	}
	m.urlsDetected.WithLabelValues(workspace).Inc()
}

// ObserveInsert records one insert outcome and its latency in seconds.
func (m *Metrics) ObserveInsert(err error, seconds float64) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	m.urlInserts.WithLabelValues(status).Inc()
	m.insertDuration.Observe(seconds)
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) WorkspaceUp() {
	if m == nil {
		return
	}
	m.workspacesUp.Inc()
}

func (m *Metrics) WorkspaceDown() {
	if m == nil {
		return
	}
	m.workspacesUp.Dec()
}
