// Package render tells the report renderer that an evaluation is ready.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier defines the renderer notification contract.
type Notifier interface {
	EvaluationReady(ctx context.Context, tenantID, evaluationID string) error
}

// NoopNotifier is used when no renderer is configured.
type NoopNotifier struct{}

// EvaluationReady performs no action.
func (NoopNotifier) EvaluationReady(context.Context, string, string) error { return nil }

// HTTPNotifier posts evaluation references to the renderer webhook.
type HTTPNotifier struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPNotifier constructs an HTTPNotifier.
func NewHTTPNotifier(endpoint, token string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

type readyPayload struct {
	EvaluationID string `json:"evaluation_id"`
	TenantID     string `json:"tenant_id"`
}

// EvaluationReady sends the evaluation reference as JSON.
func (n *HTTPNotifier) EvaluationReady(ctx context.Context, tenantID, evaluationID string) error {
	body, err := json.Marshal(readyPayload{EvaluationID: evaluationID, TenantID: tenantID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NotificationError{Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}
	return nil
}

// NotificationError represents a non-successful webhook response.
type NotificationError struct {
	Status int
	Body   string
}

func (e *NotificationError) Error() string {
	msg := fmt.Sprintf("renderer notification failed with status %d %s", e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}
