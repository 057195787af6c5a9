package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipshare_ws_connections",
		Help: "Current number of active websocket connections",
	})
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipshare_active_rooms",
		Help: "Current number of rooms with at least one member",
	})
	MessagesStoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipshare_messages_stored_total",
		Help: "Total number of clipboard items stored, by type",
	}, []string{"type"})
	HistoryEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipshare_history_evictions_total",
		Help: "Total number of items evicted from room history",
	})
	SendDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipshare_send_dropped_total",
		Help: "Total number of outbound frames dropped because a connection could not accept them",
	})
	ProtocolErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipshare_protocol_errors_total",
		Help: "Total number of error events sent to clients, by reason",
	}, []string{"reason"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		ActiveRooms,
		MessagesStoredTotal,
		HistoryEvictionsTotal,
		SendDroppedTotal,
		ProtocolErrorsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
