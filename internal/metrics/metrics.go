// Package metrics exposes Prometheus collectors for the execution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersExecuted counts terminal order outcomes by state (confirmed/failed).
var OrdersExecuted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dexflow_orders_executed_total",
		Help: "Total orders driven to a terminal state by the execution worker",
	},
	[]string{"state"},
)

// ExecutionLatency records end-to-end order execution latency.
var ExecutionLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "dexflow_order_execution_latency_seconds",
		Help:    "Latency in seconds from dequeue to terminal state",
		Buckets: prometheus.DefBuckets,
	},
)

// SettlementRetries counts retried settlement attempts by venue.
var SettlementRetries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dexflow_settlement_retries_total",
		Help: "Settlement attempts retried after a transient failure",
	},
	[]string{"venue"},
)

// SinkWriteErrors counts failed state-event writes by sink.
var SinkWriteErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dexflow_sink_write_errors_total",
		Help: "State event writes that failed per downstream sink",
	},
	[]string{"sink"},
)

// StateEventsPublished counts state events fanned out by state.
var StateEventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dexflow_state_events_published_total",
		Help: "State events handed to the publisher by state",
	},
	[]string{"state"},
)

// DuplicateDeliveries counts redeliveries dropped by the per-order lock.
var DuplicateDeliveries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dexflow_duplicate_deliveries_total",
		Help: "Order tasks dropped because another execution held the order lock",
	},
)

func init() {
	prometheus.MustRegister(OrdersExecuted, ExecutionLatency)
	prometheus.MustRegister(SettlementRetries, SinkWriteErrors, StateEventsPublished)
	prometheus.MustRegister(DuplicateDeliveries)
}
