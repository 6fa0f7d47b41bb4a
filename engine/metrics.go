package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	executions *prometheus.CounterVec
	records    *prometheus.CounterVec
	duration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conflux",
			Name:      "executions_total",
			Help:      "Graph executions by outcome.",
		}, []string{"status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conflux",
			Name:      "stage_records_total",
			Help:      "Records emitted per stage.",
		}, []string{"stage", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conflux",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of graph executions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		return m
	}
	m.executions = register(reg, m.executions)
	m.records = register(reg, m.records)
	m.duration = register(reg, m.duration)
	return m
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor so several engines can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
