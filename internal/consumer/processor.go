// Package consumer runs the Kafka loops that evaluate incoming tachograph
// records and audit published compliance events.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of a Kafka record. SchemaID is zero
// for plain JSON payloads that carry no Confluent framing.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	TenantID      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithDefaultEventType names messages that arrive without an event_type
// header, as records from the parsing pipeline do.
func WithDefaultEventType(eventType string) Option {
	return func(p *Processor) {
		p.defaultEventType = eventType
	}
}

// WithRetry makes the processor try a failing handler up to attempts times,
// doubling delay between tries.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		p.retryDelay = delay
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a
// Handler. Undecodable messages are committed so they cannot block the
// partition; messages the handler keeps failing on are left uncommitted.
type Processor struct {
	reader           Reader
	handler          Handler
	logger           *log.Logger
	defaultEventType string
	attempts         int
	retryDelay       time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		logger:   log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		attempts: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until ctx is cancelled or the reader is closed.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
			return err
		case err != nil:
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		if p.process(ctx, msg) {
			if err := p.reader.CommitMessages(ctx, msg); err != nil {
				p.logger.Printf("commit error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
			}
		}
	}
}

// process decodes and handles one record and reports whether its offset
// should be committed.
func (p *Processor) process(ctx context.Context, msg kafka.Message) bool {
	event, err := decodeMessage(msg, p.defaultEventType)
	if err != nil {
		p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
		recordOutcome(msg.Topic, "", outcomeUndecodable)
		return true
	}

	started := time.Now()
	err = p.handleWithRetry(ctx, event)
	observeHandling(event.Topic, time.Since(started))
	if err != nil {
		p.logger.Printf("handler error (event_type=%s, tenant=%s, offset=%d): %v", event.EventType, event.TenantID, event.Offset, err)
		recordOutcome(event.Topic, event.EventType, outcomeFailed)
		return false
	}

	recordOutcome(event.Topic, event.EventType, outcomeHandled)
	recordLastHandled(event)
	return true
}

func (p *Processor) handleWithRetry(ctx context.Context, event Message) error {
	delay := p.retryDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = p.handler.Handle(ctx, event); err == nil || attempt >= p.attempts {
			return err
		}
		p.logger.Printf("retrying offset %d on %s after attempt %d: %v", event.Offset, event.Topic, attempt, err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// magicByte opens every Confluent framed payload.
const magicByte = 0

func decodeMessage(msg kafka.Message, defaultEventType string) (Message, error) {
	if len(msg.Value) == 0 {
		return Message{}, errors.New("empty payload")
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType, ok := headers["event_type"]
	if !ok {
		if defaultEventType == "" {
			return Message{}, errors.New("missing event_type header")
		}
		eventType = defaultEventType
	}

	body, schemaID := msg.Value, 0
	if body[0] == magicByte {
		if len(body) < 5 {
			return Message{}, fmt.Errorf("invalid payload length: %d", len(body))
		}
		schemaID = int(binary.BigEndian.Uint32(body[1:5]))
		body = body[5:]
	}
	if !json.Valid(body) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     eventType,
		TenantID:      headers["tenant_id"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      schemaID,
		Payload:       json.RawMessage(append([]byte(nil), body...)),
	}, nil
}
