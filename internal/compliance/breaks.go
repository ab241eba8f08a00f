package compliance

import (
	"fmt"
	"time"
)

// BreakViolation records a point where continuous driving passed 4h30
// without a qualifying break.
type BreakViolation struct {
	At             time.Time `json:"at" yaml:"at"`
	DrivingMinutes int       `json:"driving_minutes" yaml:"driving_minutes"`
	Message        string    `json:"message" yaml:"message"`
}

// BreakViolationMessage is attached to every BreakViolation.
var BreakViolationMessage = fmt.Sprintf("more than %s driving without a qualifying break (45 min, or 15 min followed by 30 min)",
	FormatMinutes(MaxContinuousDriving))

type breakState struct {
	drivingSinceBreak int
	pendingCredit     bool
	creditEarnedAt    time.Time
}

func (s *breakState) qualify() {
	s.drivingSinceBreak = 0
	s.pendingCredit = false
	s.creditEarnedAt = time.Time{}
}

// DetectBreakViolations runs the break state machine over a sorted timeline.
//
// After a violation the counter is set back to exactly 4h30, not zero: one
// stretch reports once, but any driving that follows before a qualifying
// break reports again. WORK and AVAILABLE do not touch the state.
func DetectBreakViolations(segments []ActivitySegment) []BreakViolation {
	var (
		state breakState
		out   []BreakViolation
	)
	for _, seg := range segments {
		switch seg.Kind {
		case KindDriving:
			state.drivingSinceBreak += seg.Minutes()
			if state.drivingSinceBreak > MaxContinuousDriving {
				out = append(out, BreakViolation{
					At:             seg.End,
					DrivingMinutes: state.drivingSinceBreak,
					Message:        BreakViolationMessage,
				})
				state.drivingSinceBreak = MaxContinuousDriving
			}
		case KindRest:
			r := seg.Minutes()
			switch {
			case r >= FullBreak:
				state.qualify()
			case state.pendingCredit:
				if r >= SplitBreakSecond && !seg.Start.Before(state.creditEarnedAt) {
					state.qualify()
				}
			case r >= SplitBreakFirst:
				state.pendingCredit = true
				state.creditEarnedAt = seg.End
			}
		}
	}
	return out
}
