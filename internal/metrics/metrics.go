package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbsync_connect_attempts_total",
		Help: "Number of socket connection attempts",
	})

	ConnectErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbsync_connect_errors_total",
		Help: "Number of failed socket connection attempts",
	})

	Disconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arbsync_disconnects_total",
		Help: "Number of disconnects after a successful connect",
	})

	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbsync_connected",
		Help: "1 while the socket is connected",
	})

	Updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbsync_updates_total",
		Help: "Accepted arbitrage updates by normalized status",
	}, []string{"status"})

	DroppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbsync_dropped_events_total",
		Help: "Inbound events that were not acted on",
	}, []string{"kind"})

	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbsync_store_errors_total",
		Help: "Durable storage failures by operation",
	}, []string{"op"})

	HighestProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbsync_highest_profit",
		Help: "Highest arbitrage_after_fees observed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectAttempts,
		ConnectErrors,
		Disconnects,
		Connected,
		Updates,
		DroppedEvents,
		StoreErrors,
		HighestProfit,
	)
}
