// Package outbox persists and delivers domain events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher drains the outbox table and publishes compliance events to
// Kafka in the Schema Registry wire format.
//
// A batch settles every claimed row: delivered rows and dead letters are
// both marked published. Rows whose payload can never be published are
// quarantined straight away; a failed Kafka write leaves a dead letter for
// the DLQ manager to requeue. A Schema Registry outage aborts the batch and
// leaves the rows for the next poll.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	pollInterval time.Duration
	batchSize    int
	schemaIDs    sync.Map
	logger       *log.Logger
	done         chan struct{}
}

// DispatcherOption configures optional behaviour of the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger overrides the dispatcher logger.
func WithDispatcherLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       log.New(log.Writer(), "[outbox] ", log.LstdFlags|log.Lshortfile),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls until ctx is cancelled. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatcher error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()
	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	batches, letters, err := d.encodeAll(ctx, messages)
	if err != nil {
		return err
	}
	letters = append(letters, d.publish(ctx, batches)...)

	if err := writeDeadLetters(ctx, d.pool, letters); err != nil {
		return err
	}
	for _, letter := range letters {
		recordDeadLetter(letter)
	}
	return d.markPublished(ctx, messages)
}

const claimQuery = `SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

// claim selects the oldest unpublished rows and stamps claimed_at.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, claimQuery, d.batchSize)
	if err != nil {
		return nil, err
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.EventID, &m.TenantID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Topic, &m.SchemaSubject, &m.PartitionKey, &m.Payload)
		return m, err
	})
	if err != nil || len(messages) == 0 {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// topicBatch holds the encoded records bound for one topic, in claim order.
type topicBatch struct {
	topic    string
	messages []Message
	records  []kafka.Message
}

// encodeAll frames every message and groups the records by topic. Poison
// events become dead letters; any other encode failure aborts the batch.
func (d *Dispatcher) encodeAll(ctx context.Context, messages []Message) ([]*topicBatch, []deadLetter, error) {
	var (
		batches []*topicBatch
		letters []deadLetter
	)
	byTopic := make(map[string]*topicBatch)
	for _, msg := range messages {
		record, err := d.encode(ctx, msg)
		if errors.Is(err, errPoisonEvent) {
			d.logger.Printf("quarantining event %d: %v", msg.EventID, err)
			letters = append(letters, newDeadLetter(msg, err))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		batch, ok := byTopic[msg.Topic]
		if !ok {
			batch = &topicBatch{topic: msg.Topic}
			byTopic[msg.Topic] = batch
			batches = append(batches, batch)
		}
		batch.messages = append(batch.messages, msg)
		batch.records = append(batch.records, record)
	}
	return batches, letters, nil
}

// publish writes each topic batch and returns dead letters for the batches
// the broker refused.
func (d *Dispatcher) publish(ctx context.Context, batches []*topicBatch) []deadLetter {
	var letters []deadLetter
	for _, batch := range batches {
		err := d.producer.WriteMessages(ctx, batch.topic, batch.records...)
		if err != nil {
			err = fmt.Errorf("write %d messages to %s: %w", len(batch.records), batch.topic, err)
			d.logger.Printf("delivery failure: %v", err)
			for _, msg := range batch.messages {
				letters = append(letters, newDeadLetter(msg, err))
			}
			continue
		}
		recordDelivered(batch.topic, len(batch.records))
	}
	return letters
}

// encode validates the payload against the event schema and frames it with
// the registry schema ID. Headers let consumers route without decoding.
func (d *Dispatcher) encode(ctx context.Context, msg Message) (kafka.Message, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return kafka.Message{}, fmt.Errorf("%w: no schema metadata for event_type=%s", errPoisonEvent, msg.EventType)
	}

	var doc any
	if err := json.Unmarshal(msg.Payload, &doc); err != nil {
		return kafka.Message{}, fmt.Errorf("%w: event %d: decode payload: %w", errPoisonEvent, msg.EventID, err)
	}
	if err := meta.compiled.Validate(doc); err != nil {
		return kafka.Message{}, fmt.Errorf("%w: event %d: payload does not match %s schema: %w", errPoisonEvent, msg.EventID, msg.EventType, err)
	}

	schemaID, err := d.schemaID(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "tenant_id", Value: []byte(msg.TenantID)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
		},
	}, nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	key := subject + "::" + schema
	if id, found := d.schemaIDs.Load(key); found {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", subject, err)
	}
	d.schemaIDs.Store(key, id)
	return id, nil
}

// markPublished settles claimed rows tenant by tenant.
func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	byTenant := make(map[string][]Message)
	for _, msg := range messages {
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg)
	}
	for tenantID, group := range byTenant {
		err := inTenant(ctx, d.pool, tenantID, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(group))
			return err
		})
		if err != nil {
			return fmt.Errorf("mark published (tenant=%s): %w", tenantID, err)
		}
	}
	return nil
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat applies Confluent framing: magic byte 0, then the
// big-endian schema ID, then the JSON payload.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
