package compiler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// runMetrics are written once per run in the node-exporter textfile format.
type runMetrics struct {
	reg *prometheus.Registry

	instructions *prometheus.GaugeVec
	stubs        *prometheus.GaugeVec
	diagnostics  *prometheus.CounterVec
	violations   *prometheus.CounterVec
	tables       prometheus.Gauge
	cacheHit     prometheus.Gauge
	stageSeconds *prometheus.GaugeVec
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		reg: prometheus.NewRegistry(),
		instructions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opspec",
			Name:      "instructions",
			Help:      "Instructions parsed per input file.",
		}, []string{"file"}),
		stubs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opspec",
			Name:      "stubs",
			Help:      "Stubbed instructions per input file.",
		}, []string{"file"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opspec",
			Name:      "diagnostics_total",
			Help:      "Diagnostics recorded, by severity.",
		}, []string{"severity"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opspec",
			Name:      "policy_violations_total",
			Help:      "Advisory policy findings, by rule and severity.",
		}, []string{"rule", "severity"}),
		tables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opspec",
			Name:      "emitted_tables",
			Help:      "Disassembler tables emitted.",
		}),
		cacheHit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opspec",
			Name:      "cache_hit",
			Help:      "1 when the previous output was reused.",
		}),
		stageSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "opspec",
			Name:      "stage_seconds",
			Help:      "Wall time per pipeline stage.",
		}, []string{"stage"}),
	}
	m.reg.MustRegister(m.instructions, m.stubs, m.diagnostics, m.violations, m.tables, m.cacheHit, m.stageSeconds)
	// Export zero counters so dashboards see both series.
	m.diagnostics.WithLabelValues("error")
	m.diagnostics.WithLabelValues("warning")
	return m
}

func (m *runMetrics) observeStage(stage string, d time.Duration) {
	m.stageSeconds.WithLabelValues(stage).Set(d.Seconds())
}

func (m *runMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
