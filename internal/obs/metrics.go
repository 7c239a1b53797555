package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facilities_console"

var (
	registerOnce sync.Once

	RefreshExchanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_exchanges_total",
		Help:      "Refresh-token exchanges sent to the API.",
	})

	RefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_failures_total",
		Help:      "Refresh-token exchanges that ended the session.",
	})

	RequestReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_replays_total",
		Help:      "Requests replayed after a credential refresh.",
	})

	NotificationsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_received_total",
			Help:      "Push notifications received, by priority.",
		},
		[]string{"priority"},
	)

	AlertsDismissed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dismissed_total",
			Help:      "Critical alerts retired, by reason.",
		},
		[]string{"reason"},
	)

	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_reconnect_attempts_total",
		Help:      "Push channel reconnection attempts.",
	})

	PushConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "push_connected",
		Help:      "1 while the push channel is connected.",
	})

	HTTPRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Local console API latency, by route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Init registers the console metrics in the default registry once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RefreshExchanges,
			RefreshFailures,
			RequestReplays,
			NotificationsReceived,
			AlertsDismissed,
			ReconnectAttempts,
			PushConnected,
			HTTPRequests,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
