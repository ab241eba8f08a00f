package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tachograph"

// Dispatcher outcomes.
const (
	outcomeDelivered    = "delivered"
	outcomeDeadLettered = "dead_lettered"
	outcomeQuarantined  = "quarantined"
)

// DLQ manager actions.
const (
	actionRequeued       = "requeued"
	actionRetryScheduled = "retry_scheduled"
	actionQuarantined    = "quarantined"
)

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled by the dispatcher, by topic and outcome.",
	}, []string{"topic", "outcome"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, by topic, event type and action.",
	}, []string{"topic", "event_type", "action"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "entries",
		Help:      "Entries currently held in the DLQ, waiting or quarantined.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(eventsCounter, batchDuration, dlqActions, dlqBacklog)
}

func recordDelivered(topic string, n int) {
	eventsCounter.WithLabelValues(topic, outcomeDelivered).Add(float64(n))
}

func recordDeadLetter(letter deadLetter) {
	outcome := outcomeDeadLettered
	if letter.Poison {
		outcome = outcomeQuarantined
	}
	eventsCounter.WithLabelValues(letter.Topic, outcome).Inc()
}

func recordDLQAction(entry dlqEntry, action string) {
	dlqActions.WithLabelValues(entry.Topic, entry.EventType, action).Inc()
}

func refreshDLQBacklog(ctx context.Context, pool *pgxpool.Pool) {
	var waiting, quarantined int
	err := pool.QueryRow(ctx, `SELECT count(*) FILTER (WHERE quarantined_at IS NULL),
            count(*) FILTER (WHERE quarantined_at IS NOT NULL)
        FROM outbox_dlq`).Scan(&waiting, &quarantined)
	if err != nil {
		return
	}
	dlqBacklog.WithLabelValues("waiting").Set(float64(waiting))
	dlqBacklog.WithLabelValues("quarantined").Set(float64(quarantined))
}
