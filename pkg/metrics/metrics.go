package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts persisted notifications by type and priority.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolx_notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"type", "priority"},
	)

	// NotificationDeliveries counts out-of-band deliveries by channel and result (sent|skipped|failed).
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolx_notification_deliveries_total",
			Help: "Notification deliveries per channel",
		},
		[]string{"channel", "result"},
	)

	// RealtimeConnections tracks open websocket connections.
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schoolx_realtime_connections",
			Help: "Number of open realtime connections",
		},
	)

	// FeedbackSubmissions counts accepted feedback submissions by category.
	FeedbackSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolx_feedback_submissions_total",
			Help: "Total number of feedback submissions",
		},
		[]string{"category"},
	)

	// RoleChecks counts role guard evaluations (allow|deny).
	RoleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolx_role_checks_total",
			Help: "Total number of role checks",
		},
		[]string{"role", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schoolx_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
