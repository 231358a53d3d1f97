package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FXMetrics contains all Prometheus metrics related to effect chain builds.
type FXMetrics struct {
	ChainsBuilt    prometheus.Counter
	DegradedBuilds prometheus.Counter
	BuildFailures  prometheus.Counter
	BuildLatency   prometheus.Histogram
	registry       *prometheus.Registry
}

// NewFXMetrics creates a new instance of FXMetrics and registers it on the
// given registry.
func NewFXMetrics(registry *prometheus.Registry) (*FXMetrics, error) {
	m := &FXMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register fx metrics: %w", err)
	}
	return m, nil
}

func (m *FXMetrics) initMetrics() {
	m.ChainsBuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_fx_chains_built_total",
		Help: "Total number of effect chains successfully built",
	})
	m.DegradedBuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_fx_degraded_builds_total",
		Help: "Total number of chains built without live parameter controls",
	})
	m.BuildFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_fx_build_failures_total",
		Help: "Total number of effect chain builds that failed both attempts",
	})
	m.BuildLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stripdeck_fx_build_latency_seconds",
		Help:    "Latency of effect chain builds in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
	})
}

// RecordBuild observes one successful chain build.
func (m *FXMetrics) RecordBuild(duration time.Duration, degraded bool) {
	m.ChainsBuilt.Inc()
	if degraded {
		m.DegradedBuilds.Inc()
	}
	m.BuildLatency.Observe(duration.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *FXMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ChainsBuilt.Describe(ch)
	m.DegradedBuilds.Describe(ch)
	m.BuildFailures.Describe(ch)
	m.BuildLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *FXMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ChainsBuilt.Collect(ch)
	m.DegradedBuilds.Collect(ch)
	m.BuildFailures.Collect(ch)
	m.BuildLatency.Collect(ch)
}
