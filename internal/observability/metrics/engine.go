// Package metrics provides custom Prometheus metrics for the stripdeck engine.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains all Prometheus metrics related to node and link management.
type EngineMetrics struct {
	NodesCreated   prometheus.Counter
	NodesDestroyed prometheus.Counter
	ZombiesCleaned prometheus.Counter
	LinksCreated   prometheus.Counter
	LinksRemoved   prometheus.Counter
	LinkFailures   prometheus.Counter
	StartDuration  prometheus.Histogram
	registry       *prometheus.Registry
}

// NewEngineMetrics creates a new instance of EngineMetrics and registers it
// on the given registry.
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.NodesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_nodes_created_total",
		Help: "Total number of virtual nodes created",
	})
	m.NodesDestroyed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_nodes_destroyed_total",
		Help: "Total number of nodes destroyed",
	})
	m.ZombiesCleaned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_zombie_nodes_cleaned_total",
		Help: "Total number of leftover nodes destroyed at startup",
	})
	m.LinksCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_links_created_total",
		Help: "Total number of port links created",
	})
	m.LinksRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_links_removed_total",
		Help: "Total number of port links removed",
	})
	m.LinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_link_failures_total",
		Help: "Total number of failed port link attempts",
	})
	m.StartDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stripdeck_engine_start_duration_seconds",
		Help:    "Duration of full engine start passes in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
}

// RecordStart observes one completed engine start pass.
func (m *EngineMetrics) RecordStart(duration time.Duration) {
	m.StartDuration.Observe(duration.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.NodesCreated.Describe(ch)
	m.NodesDestroyed.Describe(ch)
	m.ZombiesCleaned.Describe(ch)
	m.LinksCreated.Describe(ch)
	m.LinksRemoved.Describe(ch)
	m.LinkFailures.Describe(ch)
	m.StartDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.NodesCreated.Collect(ch)
	m.NodesDestroyed.Collect(ch)
	m.ZombiesCleaned.Collect(ch)
	m.LinksCreated.Collect(ch)
	m.LinksRemoved.Collect(ch)
	m.LinkFailures.Collect(ch)
	m.StartDuration.Collect(ch)
}
