package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes outbox batches through one kafka.Writer per topic.
// Records are balanced by key, so each tenant and driver pair keeps its
// events in order on a single partition.
type KafkaProducer struct {
	brokers []string
	config  writerConfig

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

type writerConfig struct {
	batchTimeout time.Duration
	acks         kafka.RequiredAcks
}

// ProducerOption tunes the writers a KafkaProducer creates.
type ProducerOption func(*writerConfig)

// WithBatchTimeout bounds how long a writer waits to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(c *writerConfig) {
		c.batchTimeout = d
	}
}

// WithRequiredAcks overrides the acknowledgement level, kafka.RequireAll by default.
func WithRequiredAcks(acks kafka.RequiredAcks) ProducerOption {
	return func(c *writerConfig) {
		c.acks = acks
	}
}

// NewKafkaProducer creates a KafkaProducer. The dispatcher hands each topic
// a whole batch per poll, so the default 50ms batch timeout keeps writes
// from idling for the kafka-go default of one second.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) *KafkaProducer {
	cfg := writerConfig{batchTimeout: 50 * time.Millisecond, acks: kafka.RequireAll}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &KafkaProducer{brokers: brokers, config: cfg, writers: make(map[string]*kafka.Writer)}
}

// WriteMessages writes msgs to topic synchronously.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(p.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: p.config.acks,
			Compression:  kafka.Snappy,
			BatchTimeout: p.config.batchTimeout,
		}
		p.writers[topic] = w
	}
	return w
}

// Close flushes and releases every writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	clear(p.writers)
	return errors.Join(errs...)
}
