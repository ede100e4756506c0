package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections prometheus.Gauge
	Frames      prometheus.Counter
	Malformed   prometheus.Counter
	Oversized   prometheus.Counter
	QueueDrops  prometheus.Counter
	Dials       *prometheus.CounterVec
}

// NewMetrics registers the transport collectors on reg. A nil registerer
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshrelay_transport_connections",
			Help: "Open peer connections.",
		}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_transport_frames_received_total",
			Help: "Frames read from peer connections.",
		}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_transport_frames_malformed_total",
			Help: "Frames that could not be decoded.",
		}),
		Oversized: f.NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_transport_frames_oversized_total",
			Help: "Frames discarded for exceeding the size limit.",
		}),
		QueueDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_transport_send_queue_drops_total",
			Help: "Outbound frames dropped because a connection's queue was full.",
		}),
		Dials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshrelay_transport_dials_total",
			Help: "Outbound dial attempts by result.",
		}, []string{"result"}),
	}
}
