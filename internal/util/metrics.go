package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_operations_total",
		Help: "Total number of payment operations by outcome",
	}, []string{"operation", "outcome"})

	PaymentsRefundedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_refunded_subunits_total",
		Help: "Refunded amount in currency subunits",
	}, []string{"currency"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"plugin", "operation"})

	GatewayLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_loads_total",
		Help: "Total number of gateway plugin resolutions",
	}, []string{"result"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Total number of webhook deliveries by result",
	}, []string{"plugin", "result"})

	RateRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_rate_refresh_total",
		Help: "Total number of exchange rate pair refreshes",
	}, []string{"result"})

	RateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_rate_cache_hits_total",
		Help: "Exchange rate lookups served from cache",
	})

	RateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_rate_cache_misses_total",
		Help: "Exchange rate lookups that fell through to the database",
	})

	PluginChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugin_changes_total",
		Help: "Total number of plugin registry changes",
	}, []string{"action"})

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
