// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wacall"

var (
	CallsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_started_total",
		Help:      "Call sessions created, by direction.",
	}, []string{"direction"})

	CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_ended_total",
		Help:      "Call sessions that reached Ended, by cause.",
	}, []string{"cause"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Platform push events, by event and outcome.",
	}, []string{"event", "outcome"})

	ICEGatheringTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ice_gathering_timeouts_total",
		Help:      "Negotiations that sent an offer before candidate gathering completed.",
	})

	NegotiationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "negotiation_seconds",
		Help:      "Time from capture to remote description applied.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 20},
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
