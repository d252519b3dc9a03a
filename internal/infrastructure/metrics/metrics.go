package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transfers_total",
		Help: "Transfer attempts by result",
	}, []string{"result"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_payment_settlements_total",
		Help: "Payment settle calls by outcome",
	}, []string{"outcome"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_order_transitions_total",
		Help: "Order status transitions by target status",
	}, []string{"status"})

	LockBusyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_lock_busy_total",
		Help: "Lock acquisitions rejected because the key was held",
	}, []string{"op"})

	RiskEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_risk_events_total",
		Help: "Suspicious activity records by tier",
	}, []string{"tier"})

	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_outbox_published_total",
		Help: "Outbox messages handed to Kafka by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
