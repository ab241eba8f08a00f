package compliance

import (
	"sort"
	"time"
)

// RestFlag grades the longest rest that started on a day.
type RestFlag string

const (
	// RestUnset means no rest segment starts on the day.
	RestUnset        RestFlag = ""
	RestOK           RestFlag = "OK"
	RestReduced      RestFlag = "REDUCED"
	RestInsufficient RestFlag = "INSUFFICIENT"
)

// ClassifyRest grades a rest block: 11h regular, 9h reduced.
func ClassifyRest(minutes int) RestFlag {
	switch {
	case minutes >= RegularDailyRest:
		return RestOK
	case minutes >= ReducedDailyRest:
		return RestReduced
	default:
		return RestInsufficient
	}
}

// DailyTotal aggregates one UTC calendar day.
type DailyTotal struct {
	Date               time.Time `json:"date" yaml:"date"`
	DrivingMinutes     int       `json:"driving_minutes" yaml:"driving_minutes"`
	LongestRestMinutes *int      `json:"longest_rest_minutes,omitempty" yaml:"longest_rest_minutes,omitempty"`
	ExtendedTo10h      bool      `json:"extended_to_10h" yaml:"extended_to_10h"`
	DrivingViolation   string    `json:"driving_violation,omitempty" yaml:"driving_violation,omitempty"`
	RestFlag           RestFlag  `json:"rest_flag,omitempty" yaml:"rest_flag,omitempty"`
}

// AggregateDaily sums driving per UTC day, splitting segments on midnight,
// and keeps the longest rest block per start day. The timeline must already
// be normalized. Extension and driving violations are left to AggregateWeekly.
func AggregateDaily(segments []ActivitySegment) []DailyTotal {
	driving := make(map[time.Time]int)
	rest := make(map[time.Time]int)
	present := make(map[time.Time]struct{})

	for _, seg := range segments {
		for day := dayOf(seg.Start); day.Before(seg.End); day = day.AddDate(0, 0, 1) {
			present[day] = struct{}{}
		}

		switch seg.Kind {
		case KindDriving:
			for day, minutes := range splitByDay(seg) {
				driving[day] += minutes
			}
		case KindRest:
			day := dayOf(seg.Start)
			if m := seg.Minutes(); m > rest[day] {
				rest[day] = m
			}
		}
	}

	out := make([]DailyTotal, 0, len(present))
	for day := range present {
		total := DailyTotal{Date: day, DrivingMinutes: driving[day]}
		if longest, ok := rest[day]; ok {
			total.LongestRestMinutes = &longest
			total.RestFlag = ClassifyRest(longest)
		}
		out = append(out, total)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// splitByDay walks a segment in day strides and returns the minutes each
// touched day receives. The values always add up to seg.Minutes().
func splitByDay(seg ActivitySegment) map[time.Time]int {
	parts := make(map[time.Time]int)
	cursor := seg.Start
	for cursor.Before(seg.End) {
		dayStart := dayOf(cursor)
		next := dayStart.AddDate(0, 0, 1)
		stop := seg.End
		if next.Before(stop) {
			stop = next
		}
		parts[dayStart] += int(stop.Sub(cursor) / time.Minute)
		cursor = stop
	}
	return parts
}
