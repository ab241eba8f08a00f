package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tachograph/internal/observability"
)

// AuditHandler writes published compliance events into compliance_event_log.
// Redelivered records are ignored by their topic, partition and offset.
type AuditHandler struct {
	pool *pgxpool.Pool
}

// NewAuditHandler constructs a handler backed by the provided pool.
func NewAuditHandler(pool *pgxpool.Pool) *AuditHandler {
	return &AuditHandler{pool: pool}
}

type auditFields struct {
	EvaluationID string     `json:"evaluation_id"`
	TenantID     string     `json:"tenant_id"`
	EvaluatedAt  *time.Time `json:"evaluated_at"`
	DetectedAt   *time.Time `json:"detected_at"`
}

// Handle stores the event payload under the tenant named by the message.
func (h *AuditHandler) Handle(ctx context.Context, msg Message) error {
	var fields auditFields
	if err := json.Unmarshal(msg.Payload, &fields); err != nil {
		return err
	}
	tenantID := msg.TenantID
	if tenantID == "" {
		tenantID = fields.TenantID
	}
	if tenantID == "" || fields.EvaluationID == "" {
		return errors.New("event carries no tenant or evaluation id")
	}
	occurredAt := fields.EvaluatedAt
	if occurredAt == nil {
		occurredAt = fields.DetectedAt
	}

	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}

	var schemaID any
	if msg.SchemaID != 0 {
		schemaID = msg.SchemaID
	}
	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO compliance_event_log (tenant_id, evaluation_id, event_type, topic, kafka_partition, kafka_offset, schema_id, payload, occurred_at, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT (topic, kafka_partition, kafka_offset) DO NOTHING`,
		tenantID,
		fields.EvaluationID,
		msg.EventType,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		schemaID,
		msg.Payload,
		occurredAt,
		receivedAt,
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordEventAudited(receivedAt)
	return nil
}
