package consumer

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/tachograph/internal/domain"
	"example.com/tachograph/internal/persistence/memory"
	"example.com/tachograph/pkg/events"
)

const parsedDoc = `{
  "driver": {"card_number": "DE42"},
  "activities": {"2024-05-06": [
    {"activity": 3, "from": "05:00", "duration": "05:00"},
    {"activity": 0, "from": "10:00", "duration": "01:00"}
  ]}
}`

func TestEvaluationHandlerEvaluatesEnvelope(t *testing.T) {
	repo := memory.NewRepository()
	svc := domain.NewService(repo, domain.WithLogger(log.New(testWriter{t}, "", 0)))
	handler := NewEvaluationHandler(svc, log.New(testWriter{t}, "", 0))

	msg := Message{
		Topic:     "tachograph_records",
		Partition: 1,
		Offset:    9,
		EventType: events.TypeRecordParsed,
		Payload:   []byte(`{"tenant_id":"tenant-1","record_id":"rec-1","source":"upload","documents":[` + parsedDoc + `,null]}`),
	}
	require.NoError(t, handler.Handle(context.Background(), msg))
	require.NoError(t, handler.Handle(context.Background(), msg), "redelivery is a replay")

	list, _, err := repo.ListByDriver(context.Background(), "tenant-1", "DE42", nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "upload", list[0].Source)
	require.Equal(t, domain.EvaluationStatusViolations, list[0].Status)

	found, err := repo.FindByIdempotency(context.Background(), "tenant-1", "rec-1")
	require.NoError(t, err)
	require.NotNil(t, found)

	evts := repo.Events()
	require.Len(t, evts, 2)
	require.Equal(t, events.TypeComplianceEvaluated, evts[0].EventType)
	require.Equal(t, events.TypeViolationsDetected, evts[1].EventType)
}

func TestEvaluationHandlerAcceptsBareDocument(t *testing.T) {
	repo := memory.NewRepository()
	svc := domain.NewService(repo, domain.WithLogger(log.New(testWriter{t}, "", 0)))
	handler := NewEvaluationHandler(svc, log.New(testWriter{t}, "", 0))

	msg := Message{Topic: "tachograph_records", Offset: 4, TenantID: "tenant-2", Payload: []byte(parsedDoc)}
	require.NoError(t, handler.Handle(context.Background(), msg))

	found, err := repo.FindByIdempotency(context.Background(), "tenant-2", "tachograph_records/0/4")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "DE42", found.DriverID)
}

func TestEvaluationHandlerDropsUnusableRecords(t *testing.T) {
	repo := memory.NewRepository()
	svc := domain.NewService(repo, domain.WithLogger(log.New(testWriter{t}, "", 0)))
	handler := NewEvaluationHandler(svc, log.New(testWriter{t}, "", 0))

	cases := map[string]Message{
		"no tenant":      {Payload: []byte(parsedDoc)},
		"no documents":   {TenantID: "t", Payload: []byte(`{"documents":[]}`)},
		"broken content": {TenantID: "t", Payload: []byte(`{"activities": nope}`)},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, handler.Handle(context.Background(), msg))
		})
	}
	require.Empty(t, repo.Events())
}

type failingEvaluator struct{ err error }

func (f failingEvaluator) EvaluateRecord(context.Context, domain.EvaluateRecordInput) (*domain.EvaluationAggregate, bool, error) {
	return nil, false, f.err
}

func TestEvaluationHandlerReturnsStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	handler := NewEvaluationHandler(failingEvaluator{err: boom}, log.New(testWriter{t}, "", 0))

	err := handler.Handle(context.Background(), Message{TenantID: "t", Payload: []byte(parsedDoc)})
	require.ErrorIs(t, err, boom)
}

func TestRecordInputFallsBackToMessageTenant(t *testing.T) {
	input := recordInput(Message{
		Topic:    "records",
		TenantID: "header-tenant",
		Payload:  []byte(`{"documents":[{"segments":[]}]}`),
	})
	require.Equal(t, "header-tenant", input.TenantID)
	require.Equal(t, "records/0/0", input.IdempotencyKey)
	require.Len(t, input.Documents, 1)
}
