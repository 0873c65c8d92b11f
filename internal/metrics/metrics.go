package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler Metrics
var (
	// SchedulerCyclesTotal tracks completed poll cycles by outcome
	SchedulerCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_cycles_total",
			Help: "Total scheduler poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	// SchedulerUpdateDuration tracks per-game update latency in seconds
	SchedulerUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_update_duration_seconds",
			Help:    "Per-game update duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// SchedulerUpdateErrorsTotal tracks update failures by class
	SchedulerUpdateErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_update_errors_total",
			Help: "Total update failures by error class",
		},
		[]string{"class"},
	)

	// SchedulerGamesInCooldown tracks games currently skipped after repeated failures
	SchedulerGamesInCooldown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_games_in_cooldown",
			Help: "Games currently in a retry cooldown window",
		},
	)

	// SchedulerStoreReconnectsTotal tracks store reconnection attempts
	SchedulerStoreReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_store_reconnects_total",
			Help: "Total store reconnection attempts",
		},
	)
)

// Broadcast Metrics
var (
	// BroadcastDeliveredTotal tracks messages enqueued to subscriber sockets
	BroadcastDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_delivered_total",
			Help: "Total broadcast messages delivered to subscriber sockets",
		},
	)

	// BroadcastSlowClientsEvicted tracks connections dropped for backpressure
	BroadcastSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_slow_clients_evicted_total",
			Help: "Connections terminated because their outbound buffer was full",
		},
	)

	// BroadcastActiveConnections tracks currently registered connections
	BroadcastActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_active_connections",
			Help: "Currently registered WebSocket connections",
		},
	)

	// BroadcastSubscriptions tracks active channel subscriptions
	BroadcastSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscriptions",
			Help: "Active channel subscriptions across all connections",
		},
	)

	// WebSocketPingFailures tracks failed liveness pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket pings",
		},
	)

	// WebSocketMessageSendDuration tracks socket write latency in seconds
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)
)

// Handshake Metrics
var (
	// HandshakeRejectionsTotal tracks rejected upgrade attempts by reason
	HandshakeRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handshake_rejections_total",
			Help: "Rejected WebSocket handshakes by reason",
		},
		[]string{"reason"},
	)

	// MessageRateLimitedTotal tracks inbound frames rejected by the per-connection limiter
	MessageRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "message_rate_limited_total",
			Help: "Inbound client frames rejected by the per-connection rate limiter",
		},
	)
)

// Worker Metrics
var (
	// WorkerRestartsTotal tracks worker process respawns
	WorkerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_restarts_total",
			Help: "Total worker process respawns",
		},
	)

	// WorkerHeartbeatsTotal tracks heartbeats received from workers
	WorkerHeartbeatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_heartbeats_total",
			Help: "Total heartbeats received from worker processes",
		},
	)

	// WorkersActive tracks running worker processes
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workers_active",
			Help: "Currently running worker processes",
		},
	)
)

// Feed Metrics
var (
	// FeedRequestsTotal tracks feed fetches by status
	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total external feed fetches by status",
		},
		[]string{"status"},
	)

	// FeedBreakerState tracks the feed circuit breaker (0=closed, 1=half-open, 2=open)
	FeedBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_circuit_breaker_state",
			Help: "Feed circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Health Metrics
var (
	// HealthStatus tracks the aggregated health state (0=healthy, 1=degraded, 2=unhealthy)
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Aggregated health state (0=healthy, 1=degraded, 2=unhealthy)",
		},
	)
)
