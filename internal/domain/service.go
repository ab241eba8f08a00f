// Package domain defines the business logic for the compliance service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/tachograph/internal/compliance"
	"example.com/tachograph/internal/ingest"
	"example.com/tachograph/internal/observability"
)

var (
	// ErrEvaluationNotFound is returned when an evaluation cannot be located.
	ErrEvaluationNotFound = errors.New("evaluation not found")
	// ErrNoDocuments is returned when a request carries no parser output.
	ErrNoDocuments = errors.New("at least one document is required")
	// ErrInvalidDocument wraps decode failures of a submitted document.
	ErrInvalidDocument = errors.New("invalid tachograph document")
	// ErrMissingTenant is returned when no tenant scopes the request.
	ErrMissingTenant = errors.New("tenant id is required")
)

// EvaluationRepository captures persistence operations.
type EvaluationRepository interface {
	FindByIdempotency(ctx context.Context, tenantID, idempotencyKey string) (*EvaluationAggregate, error)
	Create(ctx context.Context, aggregate EvaluationAggregate, idempotencyKey string) error
	Get(ctx context.Context, tenantID, evaluationID string) (*EvaluationAggregate, error)
	ListByDriver(ctx context.Context, tenantID, driverID string, cursor *Cursor, limit int) ([]EvaluationAggregate, *Cursor, error)
}

// Notifier tells the report renderer that an evaluation is ready.
type Notifier interface {
	EvaluationReady(ctx context.Context, tenantID, evaluationID string) error
}

// Cursor models the pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNotifier sets the collaborator told about committed evaluations.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLocation sets the zone used to read local day records.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.location = loc
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service orchestrates evaluation workflows.
type Service struct {
	repo     EvaluationRepository
	notifier Notifier
	location *time.Location
	logger   *log.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo EvaluationRepository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		location: time.UTC,
		logger:   log.New(log.Writer(), "[domain] ", log.LstdFlags|log.Lshortfile),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EvaluateRecordInput captures one record submitted by the API or consumer.
type EvaluateRecordInput struct {
	TenantID string
	// DriverID is used when the documents carry no driver card number.
	DriverID       string
	Source         string
	Documents      [][]byte
	IdempotencyKey string
}

// EvaluateRecord decodes, normalizes and evaluates the documents, then
// persists the aggregate together with its outbox events. The bool result
// reports an idempotent replay of an earlier evaluation.
func (s *Service) EvaluateRecord(ctx context.Context, input EvaluateRecordInput) (*EvaluationAggregate, bool, error) {
	if input.TenantID == "" {
		return nil, false, ErrMissingTenant
	}
	if existing, err := s.repo.FindByIdempotency(ctx, input.TenantID, input.IdempotencyKey); err == nil && existing != nil {
		return existing, true, nil
	}
	if len(input.Documents) == 0 {
		return nil, false, ErrNoDocuments
	}

	started := time.Now()
	records := make([]ingest.Record, 0, len(input.Documents))
	for i, doc := range input.Documents {
		rec, err := ingest.Decode(doc)
		if err != nil && !errors.Is(err, ingest.ErrNoActivity) {
			return nil, false, fmt.Errorf("%w: document %d: %w", ErrInvalidDocument, i, err)
		}
		records = append(records, rec)
	}
	merged := ingest.Merge(records...)

	normalized := compliance.Normalize(merged.Source(s.location))
	for _, skipped := range normalized.Skipped {
		s.logger.Printf("tenant=%s skipped source record: %v", input.TenantID, skipped)
	}
	report := compliance.Evaluate(normalized.Segments)

	now := s.now().UTC()
	aggregate := EvaluationAggregate{
		ID:                  uuid.NewString(),
		TenantID:            input.TenantID,
		DriverID:            driverID(merged.Identity, input.DriverID),
		DriverName:          merged.Identity.DriverName,
		VehicleRegistration: merged.Identity.VehicleRegistration,
		VIN:                 merged.Identity.VIN,
		SourceShape:         string(merged.Shape),
		Source:              input.Source,
		SegmentCount:        len(normalized.Segments),
		SkippedCount:        len(normalized.Skipped),
		UnclassifiedCount:   normalized.Unclassified,
		ViolationCount:      report.ViolationCount(),
		Status:              statusOf(report),
		Report:              report,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Create(ctx, aggregate, input.IdempotencyKey); err != nil {
		return nil, false, err
	}
	observability.RecordEvaluation(string(aggregate.Status), violationsByKind(report), aggregate.SkippedCount, time.Since(started))

	if s.notifier != nil {
		// The evaluation is committed; a renderer outage must not fail it.
		if err := s.notifier.EvaluationReady(ctx, aggregate.TenantID, aggregate.ID); err != nil {
			s.logger.Printf("notify renderer (evaluation=%s): %v", aggregate.ID, err)
		}
	}

	return &aggregate, false, nil
}

// Preview evaluates an already normalized timeline without persisting it.
func (s *Service) Preview(segments []compliance.ActivitySegment) compliance.ComplianceReport {
	return compliance.Evaluate(segments)
}

// GetEvaluation fetches by ID.
func (s *Service) GetEvaluation(ctx context.Context, tenantID, evaluationID string) (*EvaluationAggregate, error) {
	agg, err := s.repo.Get(ctx, tenantID, evaluationID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, ErrEvaluationNotFound
	}
	return agg, nil
}

// ListEvaluationsByDriver fetches evaluations newest first with cursor
// pagination.
func (s *Service) ListEvaluationsByDriver(ctx context.Context, tenantID, driverID string, cursor *Cursor, limit int) ([]EvaluationAggregate, *Cursor, error) {
	return s.repo.ListByDriver(ctx, tenantID, driverID, cursor, limit)
}

func driverID(id ingest.Identity, fallback string) string {
	switch {
	case id.DriverCardNumber != "":
		return id.DriverCardNumber
	case fallback != "":
		return fallback
	}
	return UnidentifiedDriver
}

func statusOf(report compliance.ComplianceReport) EvaluationStatus {
	if report.Compliant() {
		return EvaluationStatusCompliant
	}
	return EvaluationStatusViolations
}

func violationsByKind(report compliance.ComplianceReport) map[string]int {
	out := make(map[string]int)
	for _, v := range Violations(report) {
		out[v.Kind]++
	}
	return out
}
