package compliance

import (
	"fmt"
	"time"
)

// FortnightViolation is a 14-day window whose driving exceeds 90h.
type FortnightViolation struct {
	Start          time.Time `json:"start" yaml:"start"`
	End            time.Time `json:"end" yaml:"end"`
	DrivingMinutes int       `json:"driving_minutes" yaml:"driving_minutes"`
	Message        string    `json:"message" yaml:"message"`
}

type windowKey struct {
	start, end time.Time
	minutes    int
}

// DetectFortnightViolations slides a 14-day window over the continuous day
// range spanned by days. Days without data count as zero driving.
func DetectFortnightViolations(days []DailyTotal) []FortnightViolation {
	if len(days) == 0 {
		return nil
	}

	driving := make(map[time.Time]int, len(days))
	first, last := dayOf(days[0].Date), dayOf(days[0].Date)
	for _, d := range days {
		day := dayOf(d.Date)
		driving[day] += d.DrivingMinutes
		if day.Before(first) {
			first = day
		}
		if day.After(last) {
			last = day
		}
	}

	var series []time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		series = append(series, day)
	}

	var (
		out  []FortnightViolation
		seen = make(map[windowKey]struct{})
		sum  int
	)
	for i, day := range series {
		sum += driving[day]
		if i >= FortnightWindowDays {
			sum -= driving[series[i-FortnightWindowDays]]
		}
		if i+1 < FortnightWindowDays || sum <= FortnightDrivingCap {
			continue
		}
		key := windowKey{start: series[i+1-FortnightWindowDays], end: day, minutes: sum}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, FortnightViolation{
			Start:          key.start,
			End:            key.end,
			DrivingMinutes: sum,
			Message:        fmt.Sprintf("driving %s in 14 consecutive days exceeds the 90h maximum", FormatMinutes(sum)),
		})
	}
	return out
}
