package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/tachograph/internal/auth"
	"example.com/tachograph/internal/compliance"
	"example.com/tachograph/internal/domain"
	"example.com/tachograph/internal/persistence/memory"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

const cardDocument = `{
  "driver": {"card_number": "DE42", "surname": "Muster"},
  "activities": {"2024-05-06": [
    {"activity": 3, "from": "05:00", "duration": "05:00"},
    {"activity": 0, "from": "10:00", "duration": "01:00"}
  ]}
}`

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	svc := domain.NewService(memory.NewRepository(), domain.WithLogger(log.New(testWriter{t}, "", 0)))
	mux := http.NewServeMux()
	NewHandler(svc).RegisterRoutes(mux)
	return mux
}

func withScopes(req *http.Request, tenantID string, scopes ...string) *http.Request {
	claims := &auth.Claims{
		Subject:   "tester",
		TenantID:  tenantID,
		Scopes:    make(map[string]struct{}),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, s := range scopes {
		claims.Scopes[s] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func createRequest(t *testing.T, tenantID, key string) *http.Request {
	t.Helper()
	body, err := json.Marshal(CreateEvaluationRequest{
		Documents: []json.RawMessage{json.RawMessage(cardDocument)},
		Source:    "card-upload",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return withScopes(req, tenantID, auth.ScopeComplianceWrite)
}

func TestCreateEvaluationAndReplay(t *testing.T) {
	mux := newTestMux(t)

	rr := serve(mux, createRequest(t, "tenant-1", "upload-1"))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var created CreateEvaluationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.EvaluationID)
	require.Equal(t, "violations", created.Status)
	require.Equal(t, 1, created.ViolationCount)
	require.False(t, created.Replay)

	rr = serve(mux, createRequest(t, "tenant-1", "upload-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	var replayed CreateEvaluationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replayed))
	require.True(t, replayed.Replay)
	require.Equal(t, created.EvaluationID, replayed.EvaluationID)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodGet, "/v1/evaluations/"+created.EvaluationID, nil), "tenant-1", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusOK, rr.Code)
	var view EvaluationView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, "DE42", view.DriverID)
	require.Equal(t, "card-upload", view.Source)
	require.NotNil(t, view.Report)
	require.Len(t, view.Report.BreakViolations, 1)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodGet, "/v1/evaluations/"+created.EvaluationID, nil), "tenant-2", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"type":"not_found","detail":"evaluation not found"}`, rr.Body.String())
}

func TestCreateEvaluationRejections(t *testing.T) {
	mux := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(`{}`)))
	rr := serve(mux, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(`{}`))), "t", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(`{`))), "t", auth.ScopeComplianceWrite))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(`{"documents":[],"source":"x"}`))), "t", auth.ScopeComplianceWrite))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(`{"documents":["   "],"source":"x"}`))), "t", auth.ScopeComplianceWrite))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(`{"documents":["{\"segments\":"],"source":"x"}`))), "t", auth.ScopeComplianceWrite))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}

func TestCreateEvaluationAcceptsEncodedDocuments(t *testing.T) {
	mux := newTestMux(t)
	encoded, err := json.Marshal(cardDocument)
	require.NoError(t, err)

	body := `{"documents":[` + string(encoded) + `],"source":"bridge"}`
	rr := serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/evaluations", bytes.NewReader([]byte(body))), "t", auth.ScopeComplianceWrite))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var created CreateEvaluationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, 1, created.ViolationCount)
}

func TestListEvaluationsPaginates(t *testing.T) {
	mux := newTestMux(t)
	for _, key := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusAccepted, serve(mux, createRequest(t, "tenant-1", key)).Code)
	}

	rr := serve(mux, withScopes(httptest.NewRequest(http.MethodGet, "/v1/evaluations?driver_id=DE42&limit=2", nil), "tenant-1", auth.ScopeComplianceWrite))
	require.Equal(t, http.StatusOK, rr.Code)
	var page ListEvaluationsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Nil(t, page.Items[0].Report)
	require.NotEmpty(t, page.NextCursor)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodGet, "/v1/evaluations?driver_id=DE42&limit=2&cursor="+page.NextCursor, nil), "tenant-1", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusOK, rr.Code)
	var rest ListEvaluationsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rest))
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.NextCursor)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodGet, "/v1/evaluations", nil), "tenant-1", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodGet, "/v1/evaluations?driver_id=DE42&cursor=bm9wZQ", nil), "tenant-1", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPreview(t *testing.T) {
	mux := newTestMux(t)
	body := `{"segments":[
	  {"start":"2024-05-06T05:00:00Z","end":"2024-05-06T14:30:00Z","kind":"driving"},
	  {"start":"2024-05-06T14:30:00Z","end":"2024-05-07T02:00:00Z","kind":"REST"}
	]}`

	rr := serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/compliance/preview", bytes.NewReader([]byte(body))), "t", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var report compliance.ComplianceReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Len(t, report.Daily, 2)
	require.Equal(t, 570, report.Daily[0].DrivingMinutes)
	require.True(t, report.Daily[0].ExtendedTo10h)
	require.Len(t, report.BreakViolations, 1)

	bad := `{"segments":[{"start":"2024-05-06T05:00:00Z","end":"2024-05-06T04:00:00Z","kind":"DRIVING"}]}`
	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/compliance/preview", bytes.NewReader([]byte(bad))), "t", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	unknown := `{"segments":[{"start":"2024-05-06T05:00:00Z","end":"2024-05-06T06:00:00Z","kind":"SLEEPING"}]}`
	rr = serve(mux, withScopes(httptest.NewRequest(http.MethodPost, "/v1/compliance/preview", bytes.NewReader([]byte(unknown))), "t", auth.ScopeComplianceRead))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	rr := serve(newTestMux(t), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
