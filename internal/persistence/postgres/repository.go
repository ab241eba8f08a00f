package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tachograph/internal/domain"
	"example.com/tachograph/internal/observability"
	"example.com/tachograph/pkg/events"
)

const evaluationColumns = `evaluation_id, tenant_id, driver_id, coalesce(driver_name, ''), coalesce(vehicle_registration, ''), coalesce(vin, ''),
        source_shape, coalesce(source, ''), segment_count, skipped_count, unclassified_count, violation_count, status, report, created_at, updated_at`

// Repository provides Postgres-backed persistence for evaluations and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// withTenant runs fn in a transaction scoped to tenantID by row-level security.
func (r *Repository) withTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
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

// FindByIdempotency checks if an evaluation already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, idempotencyKey string) (*domain.EvaluationAggregate, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE tenant_id=$1 AND idempotency_key=$2`

	var found *domain.EvaluationAggregate
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		agg, err := scanEvaluation(tx.QueryRow(ctx, query, tenantID, idempotencyKey))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &agg
		return nil
	})
	return found, err
}

// Create persists the aggregate and records outbox events inside a single transaction.
func (r *Repository) Create(ctx context.Context, aggregate domain.EvaluationAggregate, idempotencyKey string) error {
	report, err := json.Marshal(aggregate.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	err = r.withTenant(ctx, aggregate.TenantID, func(tx pgx.Tx) error {
		const insertEvaluation = `INSERT INTO evaluations (evaluation_id, tenant_id, driver_id, driver_name, vehicle_registration, vin, source_shape, source,
            segment_count, skipped_count, unclassified_count, violation_count, status, period_start, period_end, report, idempotency_key, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

		if _, err := tx.Exec(ctx, insertEvaluation,
			aggregate.ID,
			aggregate.TenantID,
			aggregate.DriverID,
			nullIfEmpty(aggregate.DriverName),
			nullIfEmpty(aggregate.VehicleRegistration),
			nullIfEmpty(aggregate.VIN),
			aggregate.SourceShape,
			nullIfEmpty(aggregate.Source),
			aggregate.SegmentCount,
			aggregate.SkippedCount,
			aggregate.UnclassifiedCount,
			aggregate.ViolationCount,
			string(aggregate.Status),
			aggregate.Report.PeriodStart,
			aggregate.Report.PeriodEnd,
			report,
			nullIfEmpty(idempotencyKey),
			aggregate.CreatedAt,
			aggregate.UpdatedAt,
		); err != nil {
			return err
		}

		if err := insertOutbox(ctx, tx, aggregate, events.TypeComplianceEvaluated, aggregate.EvaluatedEvent()); err != nil {
			return err
		}
		if detected, ok := aggregate.ViolationsEvent(); ok {
			if err := insertOutbox(ctx, tx, aggregate, events.TypeViolationsDetected, detected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	observability.RecordEvaluationPersisted(aggregate.UpdatedAt)
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregate domain.EvaluationAggregate, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := EventRoutes[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		aggregate.TenantID,
		"evaluation",
		aggregate.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKey(aggregate),
		body,
		fmt.Sprintf("%s:%s", aggregate.ID, eventType),
	)
	return err
}

// Get retrieves an evaluation by ID.
func (r *Repository) Get(ctx context.Context, tenantID, evaluationID string) (*domain.EvaluationAggregate, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE tenant_id=$1 AND evaluation_id::text=$2`

	var found *domain.EvaluationAggregate
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		agg, err := scanEvaluation(tx.QueryRow(ctx, query, tenantID, evaluationID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &agg
		return nil
	})
	return found, err
}

// ListByDriver returns a driver's evaluations, newest first.
func (r *Repository) ListByDriver(ctx context.Context, tenantID, driverID string, cursor *domain.Cursor, limit int) ([]domain.EvaluationAggregate, *domain.Cursor, error) {
	args := []any{tenantID, driverID, limit}
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE tenant_id=$1 AND driver_id=$2`

	if cursor != nil {
		query += ` AND (created_at, evaluation_id::text) < ($4, $5)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, evaluation_id::text DESC LIMIT $3`

	results := make([]domain.EvaluationAggregate, 0, limit)
	err := r.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			agg, err := scanEvaluation(rows)
			if err != nil {
				return err
			}
			results = append(results, agg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

func scanEvaluation(row pgx.Row) (domain.EvaluationAggregate, error) {
	var (
		agg    domain.EvaluationAggregate
		status string
		report []byte
	)
	if err := row.Scan(&agg.ID, &agg.TenantID, &agg.DriverID, &agg.DriverName, &agg.VehicleRegistration, &agg.VIN,
		&agg.SourceShape, &agg.Source, &agg.SegmentCount, &agg.SkippedCount, &agg.UnclassifiedCount, &agg.ViolationCount,
		&status, &report, &agg.CreatedAt, &agg.UpdatedAt); err != nil {
		return domain.EvaluationAggregate{}, err
	}
	agg.Status = domain.EvaluationStatus(status)
	if err := json.Unmarshal(report, &agg.Report); err != nil {
		return domain.EvaluationAggregate{}, fmt.Errorf("decode report of evaluation %s: %w", agg.ID, err)
	}
	agg.CreatedAt = agg.CreatedAt.UTC()
	agg.UpdatedAt = agg.UpdatedAt.UTC()
	return agg, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// EventRoute describes how to route an outbox event.
type EventRoute struct {
	Topic         string
	SchemaSubject string
	PartitionKey  func(domain.EvaluationAggregate) string
}

// EventRoutes maps event types to their Kafka topic and schema subject.
var EventRoutes = map[string]EventRoute{
	events.TypeComplianceEvaluated: {
		Topic:         "compliance_events",
		SchemaSubject: "compliance_events-value",
		PartitionKey: func(a domain.EvaluationAggregate) string {
			return fmt.Sprintf("%s:%s", a.TenantID, a.DriverID)
		},
	},
	events.TypeViolationsDetected: {
		Topic:         "compliance_violations",
		SchemaSubject: "compliance_violations-value",
		PartitionKey: func(a domain.EvaluationAggregate) string {
			return fmt.Sprintf("%s:%s", a.TenantID, a.DriverID)
		},
	},
}
