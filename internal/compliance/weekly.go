package compliance

import (
	"fmt"
	"sort"
	"time"
)

// WeeklyTotal aggregates one ISO-8601 week.
type WeeklyTotal struct {
	Week             string `json:"week" yaml:"week"`
	DrivingMinutes   int    `json:"driving_minutes" yaml:"driving_minutes"`
	DrivingViolation string `json:"driving_violation,omitempty" yaml:"driving_violation,omitempty"`
}

// ISOWeek returns the "YYYY-Www" key of the ISO week containing t.
func ISOWeek(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// AggregateWeekly groups days by ISO week, allocates the 10h extension and
// assigns daily and weekly driving violations. It returns fresh day records;
// any extension or violation already present on the input is recomputed.
func AggregateWeekly(days []DailyTotal) ([]DailyTotal, []WeeklyTotal) {
	out := make([]DailyTotal, len(days))
	copy(out, days)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	byWeek := make(map[string][]int)
	order := make([]string, 0)
	for i := range out {
		out[i].ExtendedTo10h = false
		out[i].DrivingViolation = ""
		key := ISOWeek(out[i].Date)
		if _, seen := byWeek[key]; !seen {
			order = append(order, key)
		}
		byWeek[key] = append(byWeek[key], i)
	}
	sort.Strings(order)

	weeks := make([]WeeklyTotal, 0, len(order))
	for _, key := range order {
		members := byWeek[key]
		allocateExtensions(out, members, key)

		total := WeeklyTotal{Week: key}
		for _, i := range members {
			day := &out[i]
			total.DrivingMinutes += day.DrivingMinutes
			if day.DrivingViolation != "" {
				continue
			}
			switch {
			case day.DrivingMinutes > ExtendedDailyLimit:
				day.DrivingViolation = fmt.Sprintf("daily driving %s exceeds the 10h maximum", FormatMinutes(day.DrivingMinutes))
			case day.DrivingMinutes > DailyDrivingLimit && !day.ExtendedTo10h:
				day.DrivingViolation = fmt.Sprintf("daily driving %s: 9h exceeded without valid extension", FormatMinutes(day.DrivingMinutes))
			}
		}
		if total.DrivingMinutes > WeeklyDrivingLimit {
			total.DrivingViolation = fmt.Sprintf("weekly driving %s exceeds the 56h maximum", FormatMinutes(total.DrivingMinutes))
		}
		weeks = append(weeks, total)
	}
	return out, weeks
}

// allocateExtensions hands the two weekly extensions to the largest
// candidate days. A candidate beyond the allowance stays unextended and gets
// the over-allowance violation, so it is never also reported as a plain 9h
// breach.
func allocateExtensions(days []DailyTotal, members []int, week string) {
	candidates := make([]int, 0, len(members))
	for _, i := range members {
		m := days[i].DrivingMinutes
		if m > DailyDrivingLimit && m <= ExtendedDailyLimit {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return days[candidates[a]].DrivingMinutes > days[candidates[b]].DrivingMinutes
	})

	for rank, i := range candidates {
		if rank < MaxExtendedDays {
			days[i].ExtendedTo10h = true
			continue
		}
		days[i].DrivingViolation = fmt.Sprintf(
			"daily driving %s: more than %d extended driving days in week %s",
			FormatMinutes(days[i].DrivingMinutes), MaxExtendedDays, week)
	}
}
