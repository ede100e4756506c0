package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the "reason" label.
const (
	dropInvalid   = "invalid"
	dropExpired   = "ttl_expired"
	dropDuplicate = "duplicate"
)

// Metrics exposes relay counters. A nil Registerer keeps them unregistered,
// which is what tests use.
type Metrics struct {
	Accepted   *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	Relayed    prometheus.Counter
	Originated *prometheus.CounterVec
	Events     *prometheus.CounterVec
	Peers      prometheus.Gauge
	CacheSize  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Accepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshrelay_messages_accepted_total",
			Help: "Messages that passed validation, TTL and dedup checks",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshrelay_messages_dropped_total",
			Help: "Messages dropped by the relay engine",
		}, []string{"reason"}),
		Relayed: f.NewCounter(prometheus.CounterOpts{
			Name: "meshrelay_messages_relayed_total",
			Help: "Relay copies handed to the transport",
		}),
		Originated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshrelay_messages_originated_total",
			Help: "Messages created by this node",
		}, []string{"type"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshrelay_events_emitted_total",
			Help: "Events delivered to the hosting application",
		}, []string{"kind"}),
		Peers: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshrelay_peers",
			Help: "Peers known from discovery",
		}),
		CacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshrelay_dedup_cache_entries",
			Help: "Entries currently held by the dedup cache",
		}),
	}
}
