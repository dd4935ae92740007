package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swms_api_requests_total",
			Help: "Total number of backend API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swms_api_request_duration_seconds",
			Help:    "Backend API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Token refresh metrics
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swms_token_refresh_total",
			Help: "Total number of token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	TokenRefreshWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swms_token_refresh_waiters",
			Help: "Requests currently suspended waiting for a token refresh",
		},
	)

	AccessTokenTTL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swms_access_token_ttl_seconds",
			Help: "Seconds until the stored access token expires (0 when absent or expired)",
		},
	)

	// Realtime metrics
	RealtimeState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swms_realtime_state",
			Help: "Realtime channel state (0 = disconnected, 1 = connecting, 2 = connected, 3 = reconnecting)",
		},
	)

	RealtimeReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swms_realtime_reconnects_total",
			Help: "Total number of realtime reconnection attempts",
		},
	)

	HandlerPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swms_realtime_handler_panics_total",
			Help: "Total number of recovered panics in event handlers by event",
		},
		[]string{"event"},
	)

	// Notification metrics
	NotificationsPushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swms_notifications_pushed_total",
			Help: "Total number of notifications received over the realtime channel",
		},
	)

	NotificationsUnread = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swms_notifications_unread",
			Help: "Current unread notification counter",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TokenRefreshTotal)
	prometheus.MustRegister(TokenRefreshWaiters)
	prometheus.MustRegister(AccessTokenTTL)
	prometheus.MustRegister(RealtimeState)
	prometheus.MustRegister(RealtimeReconnectsTotal)
	prometheus.MustRegister(HandlerPanicsTotal)
	prometheus.MustRegister(NotificationsPushedTotal)
	prometheus.MustRegister(NotificationsUnread)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
