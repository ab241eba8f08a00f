// Package events defines the payloads exchanged over Kafka by the compliance
// services.
package events

import "time"

// Event type names used in the outbox and as the event_type header.
const (
	TypeComplianceEvaluated = "compliance.evaluated"
	TypeViolationsDetected  = "compliance.violations_detected"
)

// ComplianceEvaluated is emitted once per persisted evaluation.
type ComplianceEvaluated struct {
	EvaluationID        string     `json:"evaluation_id"`
	TenantID            string     `json:"tenant_id"`
	DriverID            string     `json:"driver_id"`
	VehicleRegistration string     `json:"vehicle_registration,omitempty"`
	SourceShape         string     `json:"source_shape"`
	PeriodStart         *time.Time `json:"period_start,omitempty"`
	PeriodEnd           *time.Time `json:"period_end,omitempty"`
	SegmentCount        int        `json:"segment_count"`
	SkippedCount        int        `json:"skipped_count"`
	ViolationCount      int        `json:"violation_count"`
	Status              string     `json:"status"`
	EvaluatedAt         time.Time  `json:"evaluated_at"`
}

// Violation is one finding carried by ViolationsDetected.
type Violation struct {
	Kind           string     `json:"kind"`
	Start          time.Time  `json:"start"`
	End            *time.Time `json:"end,omitempty"`
	DrivingMinutes int        `json:"driving_minutes"`
	Message        string     `json:"message"`
}

// ViolationsDetected is emitted only for evaluations with at least one
// finding.
type ViolationsDetected struct {
	EvaluationID string      `json:"evaluation_id"`
	TenantID     string      `json:"tenant_id"`
	DriverID     string      `json:"driver_id"`
	Violations   []Violation `json:"violations"`
	DetectedAt   time.Time   `json:"detected_at"`
}
