package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the cache's Prometheus collectors. A nil registerer yields
// unregistered collectors, which tests use to avoid duplicate registration.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Builds    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	Entries   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "palmyra_tenant_connection_cache_hits_total",
			Help: "Acquisitions served from a cached tenant connection",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Name: "palmyra_tenant_connection_cache_misses_total",
			Help: "Acquisitions that required a build (missing or stale entry)",
		}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "palmyra_tenant_connection_builds_total",
			Help: "Tenant connection build attempts by result",
		}, []string{"result"}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "palmyra_tenant_connection_evictions_total",
			Help: "Cached tenant connections removed by reason",
		}, []string{"reason"}),
		Entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "palmyra_tenant_connection_cache_entries",
			Help: "Tenant connections currently cached",
		}),
	}
}

func (m *Metrics) hit()                  { m.Hits.Inc() }
func (m *Metrics) miss()                 { m.Misses.Inc() }
func (m *Metrics) build(result string)   { m.Builds.WithLabelValues(result).Inc() }
func (m *Metrics) evicted(reason string) { m.Evictions.WithLabelValues(reason).Inc(); m.Entries.Dec() }
func (m *Metrics) added()                { m.Entries.Inc() }
