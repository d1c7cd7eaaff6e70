package centralconfig

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeUpdated     = "updated"
	outcomeNotModified = "not_modified"
	outcomeError       = "error"
)

// Metrics are registered with the given registerer; a nil registerer keeps
// them unregistered.
type Metrics struct {
	fetches  *prometheus.CounterVec
	updates  prometheus.Counter
	nextWait prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apm_agent",
			Subsystem: "central_config",
			Name:      "fetches_total",
			Help:      "Central configuration fetches by outcome.",
		}, []string{"outcome"}),
		updates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "apm_agent",
			Subsystem: "central_config",
			Name:      "updates_total",
			Help:      "Configuration snapshots published from central configuration.",
		}),
		nextWait: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "apm_agent",
			Subsystem: "central_config",
			Name:      "next_wait_seconds",
			Help:      "Wait scheduled before the next central configuration fetch.",
		}),
	}
}
