package compliance

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedSegment marks a source record that could not become a segment.
var ErrMalformedSegment = errors.New("malformed activity segment")

// MalformedSegmentError describes one skipped source record.
type MalformedSegmentError struct {
	Ref    string
	Reason string
}

func (e *MalformedSegmentError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformedSegment, e.Ref, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedSegment.
func (e *MalformedSegmentError) Unwrap() error { return ErrMalformedSegment }

// ActivityChange is one per-day activity record: a local "HH:MM" start and an
// "HH:MM" duration. Code takes precedence over Label when it is a known code.
type ActivityChange struct {
	Code     *int   `json:"code,omitempty"`
	Label    string `json:"label,omitempty"`
	From     string `json:"from"`
	Duration string `json:"duration"`
}

// SegmentRecord is a segment that already carries absolute instants. When End
// is zero it is resolved as Start + Duration.
type SegmentRecord struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Code     *int          `json:"code,omitempty"`
	Label    string        `json:"label,omitempty"`
}

// Source bundles every supported input shape for Normalize.
type Source struct {
	// Days maps a "YYYY-MM-DD" key to that day's activity records.
	Days map[string][]ActivityChange
	// Segments holds records with absolute instants.
	Segments []SegmentRecord
	// Location interprets local day keys and "HH:MM" starts. Nil means UTC.
	Location *time.Location
}

// NormalizeResult is the ordered timeline plus what had to be left out.
type NormalizeResult struct {
	Segments     []ActivitySegment
	Skipped      []*MalformedSegmentError
	Unclassified int
}

// Normalize converts source records into a sorted, de-duplicated timeline.
// Malformed records are skipped and reported, never fatal.
func Normalize(src Source) NormalizeResult {
	loc := src.Location
	if loc == nil {
		loc = time.UTC
	}

	var res NormalizeResult
	raw := make([]ActivitySegment, 0, len(src.Segments))

	keep := func(seg ActivitySegment) {
		if !seg.Kind.Known() {
			res.Unclassified++
			return
		}
		raw = append(raw, seg)
	}

	keys := make([]string, 0, len(src.Days))
	for key := range src.Days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(key), loc)
		for i, change := range src.Days[key] {
			ref := fmt.Sprintf("day %s record %d", key, i)
			if err != nil {
				res.Skipped = append(res.Skipped, &MalformedSegmentError{Ref: ref, Reason: "invalid date key"})
				continue
			}
			seg, malformed := fromChange(day, change, ref)
			if malformed != nil {
				res.Skipped = append(res.Skipped, malformed)
				continue
			}
			keep(seg)
		}
	}

	for i, rec := range src.Segments {
		seg, malformed := fromRecord(rec, fmt.Sprintf("segment %d", i))
		if malformed != nil {
			res.Skipped = append(res.Skipped, malformed)
			continue
		}
		keep(seg)
	}

	sortSegments(raw)
	res.Segments = dedupe(raw)
	return res
}

func fromChange(day time.Time, change ActivityChange, ref string) (ActivitySegment, *MalformedSegmentError) {
	hour, minute, err := parseClock(change.From, 23)
	if err != nil {
		return ActivitySegment{}, &MalformedSegmentError{Ref: ref, Reason: fmt.Sprintf("start %q: %v", change.From, err)}
	}
	hours, minutes, err := parseClock(change.Duration, -1)
	if err != nil {
		return ActivitySegment{}, &MalformedSegmentError{Ref: ref, Reason: fmt.Sprintf("duration %q: %v", change.Duration, err)}
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	// Durations past 24:00 run on in absolute time instead of wrapping.
	end := start.Add(time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute)
	if !end.After(start) {
		return ActivitySegment{}, &MalformedSegmentError{Ref: ref, Reason: "end is not after start"}
	}
	return ActivitySegment{
		Start: start.UTC(),
		End:   end.UTC(),
		Kind:  Classify(change.Code, change.Label),
	}, nil
}

func fromRecord(rec SegmentRecord, ref string) (ActivitySegment, *MalformedSegmentError) {
	if rec.Start.IsZero() {
		return ActivitySegment{}, &MalformedSegmentError{Ref: ref, Reason: "missing start"}
	}
	start := rec.Start.UTC().Truncate(time.Minute)
	end := rec.End
	if end.IsZero() {
		end = rec.Start.Add(rec.Duration)
	}
	end = end.UTC().Truncate(time.Minute)
	if !end.After(start) {
		return ActivitySegment{}, &MalformedSegmentError{Ref: ref, Reason: "end is not after start"}
	}
	return ActivitySegment{Start: start, End: end, Kind: Classify(rec.Code, rec.Label)}, nil
}

// parseClock parses "HH:MM". maxHour < 0 leaves the hour unbounded, which is
// how durations are read.
func parseClock(value string, maxHour int) (int, int, error) {
	value = strings.TrimSpace(value)
	h, m, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, errors.New("expected HH:MM")
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || (maxHour >= 0 && hours > maxHour) {
		return 0, 0, errors.New("hours out of range")
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, 0, errors.New("minutes out of range")
	}
	return hours, minutes, nil
}

// Classify maps a numeric activity code or a free-text label onto a kind.
// Codes follow the card convention 0 rest, 1 available, 2 work, 3 driving.
func Classify(code *int, label string) ActivityKind {
	if code != nil {
		switch *code {
		case 0:
			return KindRest
		case 1:
			return KindAvailable
		case 2:
			return KindWork
		case 3:
			return KindDriving
		}
	}
	return ClassifyLabel(label)
}

// ClassifyLabel matches a label case-insensitively by substring.
func ClassifyLabel(label string) ActivityKind {
	l := strings.ToLower(label)
	switch {
	case l == "":
		return KindUnknown
	case strings.Contains(l, "driv"):
		return KindDriving
	case strings.Contains(l, "rest"), strings.Contains(l, "break"):
		return KindRest
	case strings.Contains(l, "work"):
		return KindWork
	case strings.Contains(l, "avail"), strings.Contains(l, "standby"):
		return KindAvailable
	}
	return KindUnknown
}
