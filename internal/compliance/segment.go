// Package compliance evaluates tachograph activity timelines against the
// EU 561/2006 driving, break and rest limits.
//
// Every function in this package is pure: inputs are never mutated and no
// state is shared between calls, so independent timelines may be evaluated
// from any number of goroutines.
package compliance

import (
	"fmt"
	"sort"
	"time"
)

// ActivityKind classifies one continuous driver state.
type ActivityKind string

const (
	KindDriving   ActivityKind = "DRIVING"
	KindWork      ActivityKind = "WORK"
	KindAvailable ActivityKind = "AVAILABLE"
	KindRest      ActivityKind = "REST"
	KindUnknown   ActivityKind = "UNKNOWN"
)

// Known reports whether the kind takes part in any computation.
func (k ActivityKind) Known() bool {
	switch k {
	case KindDriving, KindWork, KindAvailable, KindRest:
		return true
	}
	return false
}

// ActivitySegment is a typed interval with absolute instants. End is always after Start.
type ActivitySegment struct {
	Start time.Time    `json:"start" yaml:"start"`
	End   time.Time    `json:"end" yaml:"end"`
	Kind  ActivityKind `json:"kind" yaml:"kind"`
}

// Minutes returns the whole-minute length of the segment.
func (s ActivitySegment) Minutes() int {
	return int(s.End.Sub(s.Start) / time.Minute)
}

// prepare copies the timeline into the shape every stage relies on: known
// kinds only, minute precision, end after start, sorted, no exact duplicates.
func prepare(timeline []ActivitySegment) []ActivitySegment {
	out := make([]ActivitySegment, 0, len(timeline))
	for _, seg := range timeline {
		if !seg.Kind.Known() {
			continue
		}
		seg.Start = seg.Start.UTC().Truncate(time.Minute)
		seg.End = seg.End.UTC().Truncate(time.Minute)
		if !seg.End.After(seg.Start) {
			continue
		}
		out = append(out, seg)
	}
	sortSegments(out)
	return dedupe(out)
}

func sortSegments(segments []ActivitySegment) {
	sort.SliceStable(segments, func(i, j int) bool {
		a, b := segments[i], segments[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.Kind < b.Kind
	})
}

// dedupe drops adjacent identical segments; input must be sorted.
func dedupe(segments []ActivitySegment) []ActivitySegment {
	if len(segments) < 2 {
		return segments
	}
	out := segments[:1]
	for _, seg := range segments[1:] {
		last := out[len(out)-1]
		if seg.Kind == last.Kind && seg.Start.Equal(last.Start) && seg.End.Equal(last.End) {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// dayOf returns UTC midnight of the day containing t.
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatMinutes renders a minute count as "9h15".
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		return "-" + FormatMinutes(-minutes)
	}
	return fmt.Sprintf("%dh%02d", minutes/60, minutes%60)
}
