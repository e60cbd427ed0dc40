// Package metrics exposes Prometheus instrumentation for the poller and the
// sink dispatcher. A nil *Metrics is valid and records nothing, which keeps
// tests and embedders free of registry setup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nutwatch"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	polls               *prometheus.CounterVec
	consecutiveFailures prometheus.Gauge
	deliveries          *prometheus.CounterVec
	sinkLatency         *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll attempts against the reading source, by result.",
		}, []string{"result"}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Current run of failed poll attempts.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_deliveries_total",
			Help:      "Readings handed to each sink, by result.",
		}, []string{"sink", "result"}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_latency_seconds",
			Help:      "Time spent in a sink's accept call.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"sink"}),
	}

	reg.MustRegister(m.polls, m.consecutiveFailures, m.deliveries, m.sinkLatency)
	return m
}

// PollSucceeded records a successful fetch and resets the failure gauge.
func (m *Metrics) PollSucceeded() {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("success").Inc()
	m.consecutiveFailures.Set(0)
}

// PollFailed records a failed fetch and the current failure run.
func (m *Metrics) PollFailed(consecutive int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("failure").Inc()
	m.consecutiveFailures.Set(float64(consecutive))
}

// SinkDelivered records one accept call.
func (m *Metrics) SinkDelivered(sink string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.deliveries.WithLabelValues(sink, result).Inc()
	m.sinkLatency.WithLabelValues(sink).Observe(elapsed.Seconds())
}
