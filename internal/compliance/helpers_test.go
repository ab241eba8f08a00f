package compliance

import (
	"testing"
	"time"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return ts
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// chain lays segments back to back starting at start.
func chain(start time.Time, parts ...part) []ActivitySegment {
	out := make([]ActivitySegment, 0, len(parts))
	cursor := start
	for _, p := range parts {
		end := cursor.Add(time.Duration(p.minutes) * time.Minute)
		out = append(out, ActivitySegment{Start: cursor, End: end, Kind: p.kind})
		cursor = end
	}
	return out
}

type part struct {
	kind    ActivityKind
	minutes int
}

func drive(minutes int) part { return part{kind: KindDriving, minutes: minutes} }
func rest(minutes int) part { return part{kind: KindRest, minutes: minutes} }
func work(minutes int) part { return part{kind: KindWork, minutes: minutes} }
func avail(minutes int) part { return part{kind: KindAvailable, minutes: minutes} }

func intPtr(v int) *int { return &v }
