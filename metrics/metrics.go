// Package metrics exposes Prometheus collectors for the execution subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_executions_total",
			Help: "Total number of finished executions",
		},
		[]string{"run_type", "outcome"}, // outcome: "ok", "nok", "error"
	)

	BusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gradebox_busy_rejections_total",
			Help: "Executions rejected because every box was allocated",
		},
	)

	BoxesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gradebox_boxes_in_use",
			Help: "Number of currently allocated sandbox boxes",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradebox_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"}, // stage: "init", "merge", "run", "check", "archive", "cleanup"
	)

	InfrastructureFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebox_infrastructure_faults_total",
			Help: "Executions aborted by an infrastructure fault",
		},
		[]string{"stage"},
	)
)
