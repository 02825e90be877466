package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatch_rounds_total", Help: "Dispatch calls by result"},
		[]string{"result"},
	)
	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_created_total", Help: "Driver notifications written"})
	DeliveryAttempts     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "delivery_attempts_total", Help: "Outbound alert attempts"},
		[]string{"channel", "result"},
	)
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "resolutions_total", Help: "Driver responses by outcome"},
		[]string{"accepted", "outcome"},
	)
	ResolveLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "resolve_latency_seconds", Help: "Response resolution latency seconds"})
	ResolveRetries = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "resolve_retries_total", Help: "Resolutions retried after a transient store error"})
	SweptExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "swept_expired_total", Help: "Pending notifications expired by the sweeper"})
	WSSessions     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "ws_sessions", Help: "Connected driver websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
