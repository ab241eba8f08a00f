// Package observability holds the Prometheus collectors shared by the
// compliance services.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tachograph"

var (
	evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compliance",
		Name:      "evaluations_total",
		Help:      "Evaluations completed, labelled by outcome.",
	}, []string{"outcome"})
	violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compliance",
		Name:      "violations_total",
		Help:      "Violations found, labelled by kind.",
	}, []string{"kind"})
	skippedSegmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compliance",
		Name:      "skipped_segments_total",
		Help:      "Source records dropped by the normalizer as malformed.",
	})
	evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "compliance",
		Name:      "evaluation_duration_seconds",
		Help:      "Time spent decoding, normalizing and evaluating one record.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	evaluationPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_evaluation_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent evaluation persisted.",
	})
	auditRecordedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "last_event_audited_timestamp_seconds",
		Help:      "Unix timestamp of the most recent compliance event written to the audit log.",
	})
)

func init() {
	prometheus.MustRegister(
		evaluationsTotal,
		violationsTotal,
		skippedSegmentsTotal,
		evaluationDuration,
		evaluationPersistGauge,
		auditRecordedGauge,
	)
}

// RecordEvaluation counts one finished evaluation.
func RecordEvaluation(outcome string, violationsByKind map[string]int, skipped int, elapsed time.Duration) {
	evaluationsTotal.WithLabelValues(outcome).Inc()
	for kind, n := range violationsByKind {
		violationsTotal.WithLabelValues(kind).Add(float64(n))
	}
	if skipped > 0 {
		skippedSegmentsTotal.Add(float64(skipped))
	}
	evaluationDuration.Observe(elapsed.Seconds())
}

// RecordEvaluationPersisted updates the persistence watermark gauge.
func RecordEvaluationPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	evaluationPersistGauge.Set(float64(ts.Unix()))
}

// RecordEventAudited updates the audit watermark gauge.
func RecordEventAudited(ts time.Time) {
	if ts.IsZero() {
		return
	}
	auditRecordedGauge.Set(float64(ts.Unix()))
}
