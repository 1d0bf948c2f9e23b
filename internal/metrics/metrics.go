// Package metrics defines the Prometheus instrumentation for Parley.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. Create one per process with New.
type Metrics struct {
	InboundReceived   *prometheus.CounterVec
	InboundDuplicates prometheus.Counter
	ReceiptsDropped   prometheus.Counter
	ActionsProduced   *prometheus.CounterVec
	SendsTotal        *prometheus.CounterVec
	SendDuration      prometheus.Histogram
	QueueDepth        prometheus.Gauge
}

// New registers and returns the process metrics.
func New() *Metrics {
	return &Metrics{
		InboundReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_inbound_messages_total",
			Help: "Inbound provider messages processed, by kind",
		}, []string{"kind"}),
		InboundDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_inbound_duplicates_total",
			Help: "Redelivered inbound messages dropped by the idempotency key",
		}),
		ReceiptsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_receipts_dropped_total",
			Help: "Delivery receipts for unknown provider message ids",
		}),
		ActionsProduced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_scenario_actions_total",
			Help: "Actions produced by scenario evaluations, by type",
		}, []string{"type"}),
		SendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_sends_total",
			Help: "Outbound send attempts, by kind and outcome",
		}, []string{"kind", "outcome"}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_send_duration_seconds",
			Help:    "Time taken for one provider send call",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_dispatch_queue_depth",
			Help: "Dispatch jobs waiting for a worker",
		}),
	}
}
