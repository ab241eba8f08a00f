package domain

import (
	"time"

	"example.com/tachograph/internal/compliance"
	"example.com/tachograph/pkg/events"
)

// EvaluationStatus summarises the outcome of an evaluation.
type EvaluationStatus string

const (
	EvaluationStatusCompliant  EvaluationStatus = "compliant"
	EvaluationStatusViolations EvaluationStatus = "violations"
)

// Violation kinds used in events and metrics.
const (
	ViolationKindDaily     = "daily_driving"
	ViolationKindWeekly    = "weekly_driving"
	ViolationKindBreak     = "break"
	ViolationKindFortnight = "fortnight_driving"
)

// UnidentifiedDriver is stored when neither the record nor the caller
// identifies the driver.
const UnidentifiedDriver = "unidentified"

// EvaluationAggregate is one evaluated tachograph record as stored in
// PostgreSQL.
type EvaluationAggregate struct {
	ID                  string
	TenantID            string
	DriverID            string
	DriverName          string
	VehicleRegistration string
	VIN                 string
	SourceShape         string
	Source              string
	SegmentCount        int
	SkippedCount        int
	UnclassifiedCount   int
	ViolationCount      int
	Status              EvaluationStatus
	Report              compliance.ComplianceReport
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EvaluatedEvent builds the compliance.evaluated payload.
func (a EvaluationAggregate) EvaluatedEvent() events.ComplianceEvaluated {
	return events.ComplianceEvaluated{
		EvaluationID:        a.ID,
		TenantID:            a.TenantID,
		DriverID:            a.DriverID,
		VehicleRegistration: a.VehicleRegistration,
		SourceShape:         a.SourceShape,
		PeriodStart:         a.Report.PeriodStart,
		PeriodEnd:           a.Report.PeriodEnd,
		SegmentCount:        a.SegmentCount,
		SkippedCount:        a.SkippedCount,
		ViolationCount:      a.ViolationCount,
		Status:              string(a.Status),
		EvaluatedAt:         a.CreatedAt,
	}
}

// ViolationsEvent builds the compliance.violations_detected payload. ok is
// false for compliant evaluations, which emit no such event.
func (a EvaluationAggregate) ViolationsEvent() (events.ViolationsDetected, bool) {
	violations := Violations(a.Report)
	if len(violations) == 0 {
		return events.ViolationsDetected{}, false
	}
	return events.ViolationsDetected{
		EvaluationID: a.ID,
		TenantID:     a.TenantID,
		DriverID:     a.DriverID,
		Violations:   violations,
		DetectedAt:   a.CreatedAt,
	}, true
}

// Violations flattens every finding of a report in a stable order: daily,
// weekly, break, fortnight.
func Violations(report compliance.ComplianceReport) []events.Violation {
	var out []events.Violation
	weekStart := make(map[string]time.Time)
	for _, d := range report.Daily {
		week := compliance.ISOWeek(d.Date)
		if _, ok := weekStart[week]; !ok {
			weekStart[week] = mondayOf(d.Date)
		}
		if d.DrivingViolation == "" {
			continue
		}
		out = append(out, events.Violation{
			Kind:           ViolationKindDaily,
			Start:          d.Date,
			End:            endOf(d.Date.AddDate(0, 0, 1)),
			DrivingMinutes: d.DrivingMinutes,
			Message:        d.DrivingViolation,
		})
	}
	for _, w := range report.Weekly {
		if w.DrivingViolation == "" {
			continue
		}
		start := weekStart[w.Week]
		out = append(out, events.Violation{
			Kind:           ViolationKindWeekly,
			Start:          start,
			End:            endOf(start.AddDate(0, 0, 7)),
			DrivingMinutes: w.DrivingMinutes,
			Message:        w.DrivingViolation,
		})
	}
	for _, b := range report.BreakViolations {
		out = append(out, events.Violation{
			Kind:           ViolationKindBreak,
			Start:          b.At,
			DrivingMinutes: b.DrivingMinutes,
			Message:        b.Message,
		})
	}
	for _, f := range report.FortnightViolations {
		out = append(out, events.Violation{
			Kind:           ViolationKindFortnight,
			Start:          f.Start,
			End:            endOf(f.End.AddDate(0, 0, 1)),
			DrivingMinutes: f.DrivingMinutes,
			Message:        f.Message,
		})
	}
	return out
}

func endOf(t time.Time) *time.Time { return &t }

func mondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
