package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_sync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	activeSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_sync_active_subscriptions",
			Help: "Number of live event-bus subscriptions by scope.",
		},
		[]string{"scope"},
	)
	syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_events_total",
			Help: "Total number of bus events processed by actors.",
		},
		[]string{"scope", "outcome"},
	)
	resubscribesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_resubscribes_total",
			Help: "Total number of automatic resubscriptions after bus drops.",
		},
		[]string{"scope"},
	)
	sendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_send_failures_total",
			Help: "Total number of send pipeline failures by stage.",
		},
		[]string{"stage"},
	)
	unreadRefreshErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sync_unread_refresh_errors_total",
			Help: "Total number of failed unread-count queries.",
		},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_sync_ws_active_connections",
			Help: "Number of active websocket feed connections.",
		},
		[]string{"feed"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sync_ws_events_total",
			Help: "Total number of websocket feed events.",
		},
		[]string{"feed", "event"},
	)
	busPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sync_bus_publish_errors_total",
			Help: "Total number of event bus publish errors.",
		},
	)
	busDroppedPayloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sync_bus_dropped_payloads_total",
			Help: "Total number of malformed bus payloads dropped.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		activeSubscriptions,
		syncEventsTotal,
		resubscribesTotal,
		sendFailuresTotal,
		unreadRefreshErrorsTotal,
		wsActiveConnections,
		wsEventsTotal,
		busPublishErrorsTotal,
		busDroppedPayloadsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncSubscription(scope string) {
	activeSubscriptions.WithLabelValues(scope).Inc()
}

func DecSubscription(scope string) {
	activeSubscriptions.WithLabelValues(scope).Dec()
}

func IncSyncEvent(scope, outcome string) {
	syncEventsTotal.WithLabelValues(scope, outcome).Inc()
}

func IncResubscribe(scope string) {
	resubscribesTotal.WithLabelValues(scope).Inc()
}

func IncSendFailure(stage string) {
	sendFailuresTotal.WithLabelValues(stage).Inc()
}

func IncUnreadRefreshError() {
	unreadRefreshErrorsTotal.Inc()
}

func IncWSActive(feed string) {
	wsActiveConnections.WithLabelValues(feed).Inc()
}

func DecWSActive(feed string) {
	wsActiveConnections.WithLabelValues(feed).Dec()
}

func IncWSEvent(feed, event string) {
	wsEventsTotal.WithLabelValues(feed, event).Inc()
}

func IncBusPublishError() {
	busPublishErrorsTotal.Inc()
}

func IncBusDroppedPayload() {
	busDroppedPayloadsTotal.Inc()
}
