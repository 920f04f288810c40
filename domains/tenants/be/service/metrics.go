package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProvisioningMetrics are the orchestrator's Prometheus collectors. A nil
// registerer yields unregistered collectors.
type ProvisioningMetrics struct {
	Runs         *prometheus.CounterVec
	StepFailures *prometheus.CounterVec
	Duration     prometheus.Histogram
	InFlight     prometheus.Gauge
}

func NewProvisioningMetrics(reg prometheus.Registerer) *ProvisioningMetrics {
	f := promauto.With(reg)
	return &ProvisioningMetrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "palmyra_tenant_provisioning_runs_total",
			Help: "Completed provisioning runs by outcome",
		}, []string{"outcome"}),
		StepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "palmyra_tenant_provisioning_step_failures_total",
			Help: "Provisioning step failures by step",
		}, []string{"step"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "palmyra_tenant_provisioning_duration_seconds",
			Help:    "Wall time of provisioning runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "palmyra_tenant_provisioning_in_flight",
			Help: "Provisioning runs currently executing",
		}),
	}
}
