// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts packets captured per interface.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"interface"},
	)

	// CaptureDropsTotal counts packets dropped by the capture buffer.
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_capture_drops_total",
			Help: "Total number of packets dropped at capture (ring buffer full)",
		},
		[]string{"interface"},
	)

	// CaptureErrorsTotal counts packet read errors on the capture path.
	// Packets that fail to decode are dropped without being counted here.
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_capture_errors_total",
			Help: "Total number of capture read errors",
		},
		[]string{"stage"},
	)

	// ActiveFlows tracks the current number of flows in the active table.
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nds_active_flows",
			Help: "Current number of flows in the active flow table",
		},
	)

	// FlowsCompletedTotal counts completed flows by completion reason.
	FlowsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_flows_completed_total",
			Help: "Total number of completed flows",
		},
		[]string{"reason"},
	)

	// InferenceQueueDepth tracks the current depth of the inference queue.
	InferenceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nds_inference_queue_depth",
			Help: "Current number of flows queued for inference",
		},
	)

	// InferenceDropsTotal counts flows dropped because the inference queue
	// was full.
	InferenceDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nds_inference_drops_total",
			Help: "Total number of flows dropped because the inference queue was full",
		},
	)

	// InferenceLatencySeconds measures end-to-end inference latency per
	// predictor stage.
	InferenceLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nds_inference_latency_seconds",
			Help:    "Latency of inference pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"stage"},
	)

	// DecisionsTotal counts fused decisions by kind.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_decisions_total",
			Help: "Total number of decisions made by the decision engine",
		},
		[]string{"kind"},
	)

	// AlertsPublishedTotal counts alerts successfully published to Redis.
	AlertsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_alerts_published_total",
			Help: "Total number of alerts published",
		},
		[]string{"severity"},
	)

	// StoreErrorsTotal counts datastore write failures by operation.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nds_store_errors_total",
			Help: "Total number of datastore write failures",
		},
		[]string{"operation"},
	)

	// PubsubErrorsTotal counts Redis publish failures.
	PubsubErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nds_pubsub_errors_total",
			Help: "Total number of Redis publish failures",
		},
	)

	// WSClientsConnected tracks the current number of connected WebSocket
	// alert subscribers.
	WSClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nds_ws_clients_connected",
			Help: "Current number of connected WebSocket alert subscribers",
		},
	)

	// WSClientsEvictedTotal counts WebSocket clients whose write loop
	// stopped because a payload or ping write failed or exceeded the write
	// deadline. A full send queue drops the message without counting here.
	WSClientsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nds_ws_clients_evicted_total",
			Help: "Total number of WebSocket clients evicted after a failed or timed-out write",
		},
	)
)
