// Package api exposes HTTP handlers for the compliance service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/tachograph/internal/auth"
	"example.com/tachograph/internal/compliance"
	"example.com/tachograph/internal/domain"
	"example.com/tachograph/internal/persistence"
)

const (
	maxBodyBytes = 16 << 20
	defaultLimit = 20
	maxLimit     = 100
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluations", h.createEvaluation)
	mux.HandleFunc("GET /v1/evaluations", h.listEvaluations)
	mux.HandleFunc("GET /v1/evaluations/{id}", h.getEvaluation)
	mux.HandleFunc("POST /v1/compliance/preview", h.preview)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) createEvaluation(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeComplianceWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope compliance:write required")
		return
	}

	var req CreateEvaluationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	docs := make([][]byte, 0, len(req.Documents))
	for _, doc := range req.Documents {
		docs = append(docs, documentBytes(doc))
	}

	aggregate, replay, err := h.service.EvaluateRecord(r.Context(), domain.EvaluateRecordInput{
		TenantID:       claims.TenantID,
		DriverID:       strings.TrimSpace(req.DriverID),
		Source:         strings.TrimSpace(req.Source),
		Documents:      docs,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	switch {
	case errors.Is(err, domain.ErrInvalidDocument), errors.Is(err, domain.ErrNoDocuments):
		writeError(w, http.StatusUnprocessableEntity, "invalid_document", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := CreateEvaluationResponse{
		EvaluationID:   aggregate.ID,
		Status:         string(aggregate.Status),
		ViolationCount: aggregate.ViolationCount,
		Replay:         replay,
	}

	status := http.StatusAccepted
	if replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) getEvaluation(w http.ResponseWriter, r *http.Request) {
	claims, ok := readClaims(w, r)
	if !ok {
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing evaluation id")
		return
	}

	aggregate, err := h.service.GetEvaluation(r.Context(), claims.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrEvaluationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "evaluation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toEvaluationView(*aggregate, true))
}

func (h *Handler) listEvaluations(w http.ResponseWriter, r *http.Request) {
	claims, ok := readClaims(w, r)
	if !ok {
		return
	}

	driverID := strings.TrimSpace(r.URL.Query().Get("driver_id"))
	if driverID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing driver_id parameter")
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	aggregates, next, err := h.service.ListEvaluationsByDriver(r.Context(), claims.TenantID, driverID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]EvaluationView, 0, len(aggregates))
	for _, agg := range aggregates {
		items = append(items, toEvaluationView(agg, false))
	}

	writeJSON(w, http.StatusOK, ListEvaluationsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := readClaims(w, r); !ok {
		return
	}

	var req PreviewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	segments, err := req.Timeline()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.service.Preview(segments))
}

// documentBytes unwraps a parser output submitted as a JSON encoded string.
func documentBytes(raw json.RawMessage) []byte {
	var embedded string
	if err := json.Unmarshal(raw, &embedded); err == nil {
		return []byte(embedded)
	}
	return []byte(raw)
}

func readClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.CanRead() {
		writeError(w, http.StatusForbidden, "forbidden", "scope compliance:read required")
		return nil, false
	}
	return claims, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

// CreateEvaluationRequest is the payload for POST /v1/evaluations. Each
// document is a parser output, inline or as a JSON encoded string.
type CreateEvaluationRequest struct {
	Documents []json.RawMessage `json:"documents"`
	Source    string            `json:"source"`
	DriverID  string            `json:"driver_id,omitempty"`
}

// Validate ensures request correctness.
func (r CreateEvaluationRequest) Validate() error {
	if len(r.Documents) == 0 {
		return errors.New("documents must contain at least one parser output")
	}
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("source is required")
	}
	return nil
}

// CreateEvaluationResponse describes the response body for create.
type CreateEvaluationResponse struct {
	EvaluationID   string `json:"evaluation_id"`
	Status         string `json:"status"`
	ViolationCount int    `json:"violation_count"`
	Replay         bool   `json:"idempotent_replay"`
}

// EvaluationView exposes an evaluation. Lists omit the report.
type EvaluationView struct {
	EvaluationID        string                       `json:"evaluation_id"`
	TenantID            string                       `json:"tenant_id"`
	DriverID            string                       `json:"driver_id"`
	DriverName          string                       `json:"driver_name,omitempty"`
	VehicleRegistration string                       `json:"vehicle_registration,omitempty"`
	VIN                 string                       `json:"vin,omitempty"`
	SourceShape         string                       `json:"source_shape"`
	Source              string                       `json:"source,omitempty"`
	SegmentCount        int                          `json:"segment_count"`
	SkippedCount        int                          `json:"skipped_count"`
	UnclassifiedCount   int                          `json:"unclassified_count"`
	ViolationCount      int                          `json:"violation_count"`
	Status              string                       `json:"status"`
	PeriodStart         *time.Time                   `json:"period_start,omitempty"`
	PeriodEnd           *time.Time                   `json:"period_end,omitempty"`
	CreatedAt           time.Time                    `json:"created_at"`
	Report              *compliance.ComplianceReport `json:"report,omitempty"`
}

// ListEvaluationsResponse packages list results.
type ListEvaluationsResponse struct {
	Items      []EvaluationView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// PreviewRequest is the payload for POST /v1/compliance/preview.
type PreviewRequest struct {
	Segments []PreviewSegment `json:"segments"`
}

// PreviewSegment is one normalized interval.
type PreviewSegment struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Kind  string    `json:"kind"`
}

// Timeline validates the segments and converts them for evaluation.
func (r PreviewRequest) Timeline() ([]compliance.ActivitySegment, error) {
	out := make([]compliance.ActivitySegment, 0, len(r.Segments))
	for i, seg := range r.Segments {
		kind := compliance.ActivityKind(strings.ToUpper(strings.TrimSpace(seg.Kind)))
		switch {
		case seg.Start.IsZero() || seg.End.IsZero():
			return nil, fmt.Errorf("segment %d: start and end are required", i)
		case !seg.End.After(seg.Start):
			return nil, fmt.Errorf("segment %d: end must be after start", i)
		case !kind.Known():
			return nil, fmt.Errorf("segment %d: unknown kind %q", i, seg.Kind)
		}
		out = append(out, compliance.ActivitySegment{Start: seg.Start, End: seg.End, Kind: kind})
	}
	return out, nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toEvaluationView(agg domain.EvaluationAggregate, withReport bool) EvaluationView {
	view := EvaluationView{
		EvaluationID:        agg.ID,
		TenantID:            agg.TenantID,
		DriverID:            agg.DriverID,
		DriverName:          agg.DriverName,
		VehicleRegistration: agg.VehicleRegistration,
		VIN:                 agg.VIN,
		SourceShape:         agg.SourceShape,
		Source:              agg.Source,
		SegmentCount:        agg.SegmentCount,
		SkippedCount:        agg.SkippedCount,
		UnclassifiedCount:   agg.UnclassifiedCount,
		ViolationCount:      agg.ViolationCount,
		Status:              string(agg.Status),
		PeriodStart:         agg.Report.PeriodStart,
		PeriodEnd:           agg.Report.PeriodEnd,
		CreatedAt:           agg.CreatedAt,
	}
	if withReport {
		report := agg.Report
		view.Report = &report
	}
	return view
}
