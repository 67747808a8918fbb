package addon

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeBuilt     = "built"
	outcomeScheduled = "scheduled"
)

// Metrics records per-request outcomes and stage timings. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests      *prom.CounterVec
	stageDuration *prom.HistogramVec
	probeErrors   prom.Counter
}

// NewMetrics creates the builder's collectors and registers them with reg.
func NewMetrics(reg prom.Registerer) *Metrics {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	m := &Metrics{
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "addonbuilder",
			Name:      "requests_total",
			Help:      "Addon requests by outcome",
		}, []string{"outcome"}),
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "addonbuilder",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		probeErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: "addonbuilder",
			Name:      "probe_errors_total",
			Help:      "Storage existence probes that failed for a reason other than a missing object",
		}),
	}
	reg.MustRegister(m.requests, m.stageDuration, m.probeErrors)
	return m
}

func (m *Metrics) incRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) incProbeError() {
	if m == nil {
		return
	}
	m.probeErrors.Inc()
}
