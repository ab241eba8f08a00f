// Package memory provides an in-process evaluation store for local runs and
// tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"example.com/tachograph/internal/domain"
	"example.com/tachograph/internal/observability"
	"example.com/tachograph/pkg/events"
)

// ErrDuplicateEvaluation is returned when an ID or idempotency key is reused.
var ErrDuplicateEvaluation = errors.New("evaluation already exists")

// Event is an outbox entry recorded alongside an evaluation.
type Event struct {
	EventType string
	TenantID  string
	Payload   any
}

// Repository stores evaluations in memory. It mirrors the Postgres
// repository: tenant scoped reads and one outbox entry per emitted event.
type Repository struct {
	mu          sync.RWMutex
	evaluations map[string]domain.EvaluationAggregate
	idempotency map[string]string
	events      []Event
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		evaluations: make(map[string]domain.EvaluationAggregate),
		idempotency: make(map[string]string),
	}
}

func idempotencyKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// FindByIdempotency implements domain.EvaluationRepository.
func (r *Repository) FindByIdempotency(_ context.Context, tenantID, key string) (*domain.EvaluationAggregate, error) {
	if key == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	agg := r.evaluations[id]
	return &agg, nil
}

// Create implements domain.EvaluationRepository.
func (r *Repository) Create(_ context.Context, aggregate domain.EvaluationAggregate, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.evaluations[aggregate.ID]; exists {
		return ErrDuplicateEvaluation
	}
	if key != "" {
		if _, exists := r.idempotency[idempotencyKey(aggregate.TenantID, key)]; exists {
			return ErrDuplicateEvaluation
		}
		r.idempotency[idempotencyKey(aggregate.TenantID, key)] = aggregate.ID
	}
	r.evaluations[aggregate.ID] = aggregate

	evaluated := aggregate.EvaluatedEvent()
	r.events = append(r.events, Event{EventType: events.TypeComplianceEvaluated, TenantID: aggregate.TenantID, Payload: evaluated})
	if violations, ok := aggregate.ViolationsEvent(); ok {
		r.events = append(r.events, Event{EventType: events.TypeViolationsDetected, TenantID: aggregate.TenantID, Payload: violations})
	}

	observability.RecordEvaluationPersisted(aggregate.UpdatedAt)
	return nil
}

// Get implements domain.EvaluationRepository. Evaluations of other tenants
// are invisible.
func (r *Repository) Get(_ context.Context, tenantID, evaluationID string) (*domain.EvaluationAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg, ok := r.evaluations[evaluationID]
	if !ok || agg.TenantID != tenantID {
		return nil, nil
	}
	return &agg, nil
}

// ListByDriver implements domain.EvaluationRepository, newest first.
func (r *Repository) ListByDriver(_ context.Context, tenantID, driverID string, cursor *domain.Cursor, limit int) ([]domain.EvaluationAggregate, *domain.Cursor, error) {
	r.mu.RLock()
	matches := make([]domain.EvaluationAggregate, 0)
	for _, agg := range r.evaluations {
		if agg.TenantID == tenantID && agg.DriverID == driverID {
			matches = append(matches, agg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return newer(matches[i].CreatedAt, matches[i].ID, matches[j].CreatedAt, matches[j].ID)
	})

	results := make([]domain.EvaluationAggregate, 0, limit)
	for _, agg := range matches {
		if cursor != nil && !newer(cursor.CreatedAt, cursor.ID, agg.CreatedAt, agg.ID) {
			continue
		}
		if len(results) == limit {
			break
		}
		results = append(results, agg)
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// newer orders (created, id) pairs descending, matching the keyset order of
// the Postgres repository.
func newer(aCreated time.Time, aID string, bCreated time.Time, bID string) bool {
	if !aCreated.Equal(bCreated) {
		return aCreated.After(bCreated)
	}
	return aID > bID
}

// Events returns a copy of every recorded outbox entry in insertion order.
func (r *Repository) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}
