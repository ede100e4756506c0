package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests    *prometheus.CounterVec
	AuthFailed  prometheus.Counter
	EventStream prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshrelay_api_requests_total",
			Help: "Control API requests by route, method and status",
		}, []string{"route", "method", "status"}),
		AuthFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_api_auth_failures_total",
			Help: "Requests rejected for a missing or invalid token",
		}),
		EventStream: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshrelay_api_event_streams",
			Help: "Open /api/events streams",
		}),
	}
}
