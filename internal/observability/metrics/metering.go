package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MeteringMetrics contains all Prometheus metrics related to level metering.
type MeteringMetrics struct {
	AttachAttempts prometheus.Counter
	AttachFailures prometheus.Counter
	ActiveStreams  prometheus.Gauge
	PendingRetries prometheus.Gauge
	registry       *prometheus.Registry
}

// NewMeteringMetrics creates a new instance of MeteringMetrics and registers
// it on the given registry.
func NewMeteringMetrics(registry *prometheus.Registry) (*MeteringMetrics, error) {
	m := &MeteringMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metering metrics: %w", err)
	}
	return m, nil
}

func (m *MeteringMetrics) initMetrics() {
	m.AttachAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_meter_attach_attempts_total",
		Help: "Total number of capture stream attach attempts",
	})
	m.AttachFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stripdeck_meter_attach_failures_total",
		Help: "Total number of failed capture stream attach attempts",
	})
	m.ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stripdeck_meter_active_streams",
		Help: "Number of currently attached metering capture streams",
	})
	m.PendingRetries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stripdeck_meter_pending_retries",
		Help: "Number of strips waiting for a metering attach retry",
	})
}

// Describe implements the prometheus.Collector interface.
func (m *MeteringMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.AttachAttempts.Describe(ch)
	m.AttachFailures.Describe(ch)
	m.ActiveStreams.Describe(ch)
	m.PendingRetries.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MeteringMetrics) Collect(ch chan<- prometheus.Metric) {
	m.AttachAttempts.Collect(ch)
	m.AttachFailures.Collect(ch)
	m.ActiveStreams.Collect(ch)
	m.PendingRetries.Collect(ch)
}
