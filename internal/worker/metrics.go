package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	stagesTotal     *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	activeStages    prometheus.Gauge
	rewardsTotal    prometheus.Counter
	callbackFailed  prometheus.Counter
	evidenceDropped prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "castquest_worker_stages_total",
			Help: "Total stage executions by stage and final outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "castquest_worker_stage_duration_seconds",
			Help:    "Stage execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		activeStages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "castquest_worker_active_stages",
			Help: "Current number of stage executions in flight.",
		}),
		rewardsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "castquest_worker_rewards_requested_total",
			Help: "Total reward transfers submitted to the relay.",
		}),
		callbackFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "castquest_worker_callback_failures_total",
			Help: "Total job callbacks that exhausted their delivery retries.",
		}),
		evidenceDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "castquest_worker_evidence_dropped_total",
			Help: "Total evidence writes that failed and were skipped.",
		}),
	}

	registry.MustRegister(
		m.stagesTotal,
		m.stageDuration,
		m.activeStages,
		m.rewardsTotal,
		m.callbackFailed,
		m.evidenceDropped,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
