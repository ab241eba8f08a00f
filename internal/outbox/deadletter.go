package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// errPoisonEvent marks outbox rows that can never be published as stored,
// such as unknown event types or payloads that fail their schema.
var errPoisonEvent = errors.New("poison event")

// deadLetter is an outbox event the dispatcher gave up on.
type deadLetter struct {
	Message
	Reason string
	// Poison letters are quarantined on arrival and never requeued.
	Poison bool
}

func newDeadLetter(msg Message, err error) deadLetter {
	return deadLetter{
		Message: msg,
		Reason:  fmt.Sprintf("%v (topic=%s)", err, msg.Topic),
		Poison:  errors.Is(err, errPoisonEvent),
	}
}

const insertDeadLetter = `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id,
        schema_subject, partition_key, next_retry_at, quarantined_at, quarantine_reason)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW(),
        CASE WHEN $11::boolean THEN NOW() END,
        CASE WHEN $11::boolean THEN 'rejected before delivery' END)`

// writeDeadLetters stores letters in outbox_dlq with one transaction per
// tenant so row-level security applies to every insert.
func writeDeadLetters(ctx context.Context, pool *pgxpool.Pool, letters []deadLetter) error {
	byTenant := make(map[string][]deadLetter)
	tenants := make([]string, 0)
	for _, letter := range letters {
		if _, seen := byTenant[letter.TenantID]; !seen {
			tenants = append(tenants, letter.TenantID)
		}
		byTenant[letter.TenantID] = append(byTenant[letter.TenantID], letter)
	}

	for _, tenantID := range tenants {
		err := inTenant(ctx, pool, tenantID, func(tx pgx.Tx) error {
			for _, l := range byTenant[tenantID] {
				if _, err := tx.Exec(ctx, insertDeadLetter,
					l.TenantID, l.EventID, l.EventType, l.Topic, l.Payload, l.Reason,
					l.AggregateType, l.AggregateID, l.SchemaSubject, l.PartitionKey, l.Poison,
				); err != nil {
					return fmt.Errorf("dead-letter event %d: %w", l.EventID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// inTenant runs fn in a transaction with app.tenant_id set for row-level
// security. The transaction commits only when fn succeeds.
func inTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
