package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeHandled     = "handled"
	outcomeFailed      = "failed"
	outcomeUndecodable = "undecodable"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tachograph",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages seen by the consumer, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	handleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tachograph",
		Subsystem: "consumer",
		Name:      "handle_duration_seconds",
		Help:      "Time spent in the handler per message, retries included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})

	lastHandledGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tachograph",
		Subsystem: "consumer",
		Name:      "last_handled_timestamp_seconds",
		Help:      "Kafka timestamp of the newest message handled per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, handleDuration, lastHandledGauge)
}

func recordOutcome(topic, eventType, outcome string) {
	messagesCounter.WithLabelValues(topic, eventType, outcome).Inc()
}

func observeHandling(topic string, elapsed time.Duration) {
	handleDuration.WithLabelValues(topic).Observe(elapsed.Seconds())
}

func recordLastHandled(msg Message) {
	if !msg.Timestamp.IsZero() {
		lastHandledGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}
