package compliance

import "time"

// Advisory notes attached to every report.
const (
	NoteBestEffort      = "Best-effort estimate based on the available data; this is not a certified legal compliance assessment."
	NoteCalendarDays    = "Daily and weekly limits are evaluated on UTC calendar days and ISO weeks, an approximation of duty periods."
	NoteNoDutyCycle     = "Duty-cycle segmentation around multi-day rests, cross-border exceptions and compensation rules are not modelled."
	NoteNoActivityFound = "No activity was found in the record."
)

// ComplianceReport is the complete, self-contained result of one evaluation.
type ComplianceReport struct {
	PeriodStart         *time.Time           `json:"period_start,omitempty" yaml:"period_start,omitempty"`
	PeriodEnd           *time.Time           `json:"period_end,omitempty" yaml:"period_end,omitempty"`
	Daily               []DailyTotal         `json:"daily" yaml:"daily"`
	Weekly              []WeeklyTotal        `json:"weekly" yaml:"weekly"`
	BreakViolations     []BreakViolation     `json:"break_violations" yaml:"break_violations"`
	FortnightViolations []FortnightViolation `json:"fortnight_violations" yaml:"fortnight_violations"`
	Notes               []string             `json:"notes" yaml:"notes"`
}

// ViolationCount counts every daily, weekly, break and fortnight violation.
func (r ComplianceReport) ViolationCount() int {
	n := len(r.BreakViolations) + len(r.FortnightViolations)
	for _, d := range r.Daily {
		if d.DrivingViolation != "" {
			n++
		}
	}
	for _, w := range r.Weekly {
		if w.DrivingViolation != "" {
			n++
		}
	}
	return n
}

// Compliant reports whether no violation was found.
func (r ComplianceReport) Compliant() bool {
	return r.ViolationCount() == 0
}

// Evaluate runs every check over the timeline and assembles the report.
// The input slice is not modified.
func Evaluate(timeline []ActivitySegment) ComplianceReport {
	segments := prepare(timeline)

	daily := AggregateDaily(segments)
	daily, weekly := AggregateWeekly(daily)

	return assemble(daily, weekly, DetectBreakViolations(segments), DetectFortnightViolations(daily))
}

func assemble(daily []DailyTotal, weekly []WeeklyTotal, breaks []BreakViolation, fortnights []FortnightViolation) ComplianceReport {
	report := ComplianceReport{
		Daily:               nonNil(daily),
		Weekly:              nonNil(weekly),
		BreakViolations:     nonNil(breaks),
		FortnightViolations: nonNil(fortnights),
	}
	if len(daily) == 0 {
		report.Notes = []string{NoteNoActivityFound, NoteBestEffort}
		return report
	}

	start, end := daily[0].Date, daily[len(daily)-1].Date
	report.PeriodStart = &start
	report.PeriodEnd = &end
	report.Notes = []string{NoteBestEffort, NoteCalendarDays, NoteNoDutyCycle}
	return report
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
