package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distributed_lock_acquire_total",
		Help: "Lock acquisition attempts by outcome",
	}, []string{"result"})

	LockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "distributed_lock_wait_seconds",
		Help:    "Time spent waiting for lock acquisition",
		Buckets: prometheus.DefBuckets,
	})

	StockReserveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reserve_total",
		Help: "Stock reservation attempts by outcome",
	}, []string{"result"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	StockReleaseTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_release_total",
		Help: "Total number of stock releases",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order state transitions by kind",
	}, []string{"transition"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Rejected order transitions by reason",
	}, []string{"reason"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Domain events published by topic",
	}, []string{"topic"})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Domain event publish failures by topic",
	}, []string{"topic"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Domain events consumed by topic and outcome",
	}, []string{"topic", "result"})

	EventsDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dead_lettered_total",
		Help: "Events routed to the dead-letter topic",
	}, []string{"topic"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
