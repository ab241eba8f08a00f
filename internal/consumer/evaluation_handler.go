package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"example.com/tachograph/internal/domain"
	"example.com/tachograph/pkg/events"
)

// RecordEvaluator is the slice of the domain service the handler drives.
type RecordEvaluator interface {
	EvaluateRecord(ctx context.Context, input domain.EvaluateRecordInput) (*domain.EvaluationAggregate, bool, error)
}

// EvaluationHandler evaluates parsed tachograph records from the records topic.
type EvaluationHandler struct {
	evaluator RecordEvaluator
	logger    *log.Logger
}

// NewEvaluationHandler constructs an EvaluationHandler.
func NewEvaluationHandler(evaluator RecordEvaluator, logger *log.Logger) *EvaluationHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[evaluation-handler] ", log.LstdFlags|log.Lshortfile)
	}
	return &EvaluationHandler{evaluator: evaluator, logger: logger}
}

// Handle runs one evaluation. Records that can never be evaluated are logged
// and acknowledged; storage failures are returned so the offset stays
// uncommitted.
func (h *EvaluationHandler) Handle(ctx context.Context, msg Message) error {
	input := recordInput(msg)

	agg, replay, err := h.evaluator.EvaluateRecord(ctx, input)
	switch {
	case errors.Is(err, domain.ErrInvalidDocument),
		errors.Is(err, domain.ErrNoDocuments),
		errors.Is(err, domain.ErrMissingTenant):
		h.logger.Printf("dropping record (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
		return nil
	case err != nil:
		return err
	}

	if replay {
		h.logger.Printf("record %s already evaluated as %s", input.IdempotencyKey, agg.ID)
		return nil
	}
	h.logger.Printf("evaluation %s tenant=%s driver=%s status=%s violations=%d", agg.ID, agg.TenantID, agg.DriverID, agg.Status, agg.ViolationCount)
	return nil
}

// recordInput reads the RecordParsed envelope. A payload that is not an
// envelope is taken as a single bare parser output.
func recordInput(msg Message) domain.EvaluateRecordInput {
	input := domain.EvaluateRecordInput{
		TenantID:       msg.TenantID,
		IdempotencyKey: fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
	}

	var envelope events.RecordParsed
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil || envelope.Documents == nil {
		input.Documents = [][]byte{msg.Payload}
		return input
	}

	if envelope.TenantID != "" {
		input.TenantID = envelope.TenantID
	}
	if envelope.RecordID != "" {
		input.IdempotencyKey = envelope.RecordID
	}
	input.Source = envelope.Source
	for _, doc := range envelope.Documents {
		if trimmed := bytes.TrimSpace(doc); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			input.Documents = append(input.Documents, []byte(doc))
		}
	}
	return input
}
