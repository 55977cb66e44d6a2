package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcaster Metrics
var (
	// BroadcasterConnections tracks connections currently held by the connection registry
	BroadcasterConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_connections_current",
			Help: "Current number of registered connections",
		},
	)

	// BroadcasterTopics tracks topics with at least one subscriber
	BroadcasterTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_topics_current",
			Help: "Current number of topics with at least one subscriber",
		},
	)

	// BroadcasterSubscriptionsTotal tracks subscribe requests by result
	BroadcasterSubscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_subscriptions_total",
			Help: "Subscribe requests by result (subscribed/unauthorized/invalid)",
		},
		[]string{"result"},
	)

	// BroadcasterInboundMessagesTotal tracks client messages by type
	BroadcasterInboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_inbound_messages_total",
			Help: "Client messages processed by type (subscribe/unsubscribe/ping/unknown/malformed)",
		},
		[]string{"type"},
	)

	// BroadcasterPublishesTotal tracks publish calls by target
	BroadcasterPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_publishes_total",
			Help: "Publish operations by target (topic/user)",
		},
		[]string{"target"},
	)

	// BroadcasterMessagesDelivered tracks frames handed to connection transports
	BroadcasterMessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_messages_delivered_total",
			Help: "Total messages accepted by connection transports",
		},
	)

	// BroadcasterMessagesDropped tracks frames a transport refused
	BroadcasterMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_messages_dropped_total",
			Help: "Messages dropped per recipient by reason (buffer_full/closed/error)",
		},
		[]string{"reason"},
	)

	// BroadcasterHeartbeatEvictions tracks connections evicted by the liveness sweep
	BroadcasterHeartbeatEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_heartbeat_evictions_total",
			Help: "Total connections evicted for not acknowledging a liveness probe",
		},
	)

	// BroadcasterSweepDuration tracks the time spent in one heartbeat sweep
	BroadcasterSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcaster_sweep_duration_seconds",
			Help:    "Heartbeat sweep duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// BroadcasterAuthenticationsTotal tracks credential checks by result
	BroadcasterAuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_authentications_total",
			Help: "Credential checks by result (success/failure)",
		},
		[]string{"result"},
	)

	// BroadcasterPanicsTotal tracks broadcaster panic recoveries
	BroadcasterPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_panics_total",
			Help: "Total broadcaster panic recoveries",
		},
	)

	// BroadcasterCommandChannelDepth tracks current command channel depth
	BroadcasterCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_command_channel_depth",
			Help: "Current command channel depth",
		},
	)

	// BroadcasterStopTimeoutsTotal tracks broadcaster stops that exceeded timeout
	BroadcasterStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_stop_timeouts_total",
			Help: "Broadcaster stops that exceeded timeout",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsTotal tracks WebSocket connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// WebSocketConnectionsRejected tracks rejected connection attempts by reason
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/per_ip_limit/global_limit)",
		},
		[]string{"reason"},
	)

	// WebSocketMessageSendDuration tracks WebSocket message send duration
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// WebSocketConnectionDuration tracks WebSocket connection duration
	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// WebSocketPingFailures tracks liveness probes that could not be written
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping writes that failed",
		},
	)

	// WebSocketClientRateLimited tracks client messages dropped by the per-connection limiter
	WebSocketClientRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_client_messages_rate_limited_total",
			Help: "Total client messages rejected by the per-connection rate limiter",
		},
	)

	// WebSocketConnectionCapacity tracks current connection capacity utilization as percentage
	WebSocketConnectionCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connection_capacity_percent",
			Help: "Current WebSocket connection capacity utilization (0-100%)",
		},
	)
)

// Redis Metrics
var (
	// RedisOpsTotal tracks Redis operations by command and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by command and status (success/error)",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed Redis dials
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)
)

// Relay Metrics
var (
	// RelayMessagesTotal tracks cross-instance relay traffic by direction and status
	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Relay messages by direction (published/received) and status (ok/error/invalid)",
		},
		[]string{"direction", "status"},
	)

	// RelaySubscriptionActive tracks whether the relay subscription is active (1) or disconnected (0)
	RelaySubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscription_active",
			Help: "1 if the relay subscription is active, 0 if disconnected",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// HTTP Metrics
var (
	// HTTPErrorsTotal counts error responses by structured error type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP error responses by error type",
		},
		[]string{"type"},
	)

	// PublishRequestsTotal counts publish API calls by target and result
	PublishRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_requests_total",
			Help: "Publish API requests by target (topic, user) and result",
		},
		[]string{"target", "result"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
