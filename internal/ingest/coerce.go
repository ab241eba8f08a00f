package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Epoch numbers above this are read as milliseconds.
const millisThreshold = 1e12

var (
	clockPattern = regexp.MustCompile(`^\s*[0-9]{1,3}:[0-9]{2}\s*$`)
	datePattern  = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
)

// coerceInstant accepts epoch seconds or milliseconds, RFC3339 strings and
// {seconds,nanos} objects.
func coerceInstant(v any) (time.Time, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f), true
	case float64:
		return fromEpoch(val), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f), true
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	case map[string]any:
		secs, nanos, ok := secondsNanos(val)
		if !ok {
			return time.Time{}, false
		}
		return time.Unix(secs, nanos).UTC(), true
	}
	return time.Time{}, false
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) > millisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	secs, frac := math.Modf(f)
	return time.Unix(int64(secs), int64(frac*1e9)).UTC()
}

// coerceDuration accepts "HH:MM" strings, minute numbers and {seconds,nanos}
// objects.
func coerceDuration(v any) (time.Duration, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		if err != nil || f < 0 {
			return 0, false
		}
		return time.Duration(f * float64(time.Minute)), true
	case float64:
		if val < 0 {
			return 0, false
		}
		return time.Duration(val * float64(time.Minute)), true
	case string:
		h, m, ok := splitClock(val)
		if !ok {
			return 0, false
		}
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, true
	case map[string]any:
		secs, nanos, ok := secondsNanos(val)
		if !ok || secs < 0 {
			return 0, false
		}
		return time.Duration(secs)*time.Second + time.Duration(nanos), true
	}
	return 0, false
}

// coerceClock renders a day-record start or duration as "HH:MM". Values that
// cannot be read are passed through so the normalizer reports them.
func coerceClock(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	}
	d, ok := coerceDuration(v)
	if !ok {
		return fmt.Sprint(v)
	}
	total := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func splitClock(value string) (int, int, bool) {
	if !clockPattern.MatchString(value) {
		return 0, 0, false
	}
	h, m, _ := strings.Cut(strings.TrimSpace(value), ":")
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes > 59 {
		return 0, 0, false
	}
	return hours, minutes, true
}

func secondsNanos(obj map[string]any) (int64, int64, bool) {
	raw, ok := obj["seconds"]
	if !ok {
		return 0, 0, false
	}
	secs, ok := toInt64(raw)
	if !ok {
		return 0, 0, false
	}
	var nanos int64
	if n, present := obj["nanos"]; present {
		if nanos, ok = toInt64(n); !ok {
			return 0, 0, false
		}
	}
	return secs, nanos, true
}

// toInt64 also accepts strings because protobuf JSON encodes int64 as text.
func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// activityKeys are searched in order for the activity of a record.
var activityKeys = []string{"activity", "activity_code", "activityCode", "code", "kind", "type", "status"}

// coerceActivity reads an activity code or label from a record object.
func coerceActivity(obj map[string]any) (*int, string, bool) {
	var (
		code  *int
		label string
		found bool
	)
	for _, key := range activityKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		switch val := raw.(type) {
		case json.Number:
			if i, err := val.Int64(); err == nil {
				c := int(i)
				code, found = &c, true
			}
		case float64:
			c := int(val)
			code, found = &c, true
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				code, found = &i, true
			} else if label == "" {
				label, found = val, true
			}
		}
		if found {
			break
		}
	}
	if l, ok := obj["label"].(string); ok && l != "" {
		if label == "" {
			label = l
		}
		found = true
	}
	return code, label, found
}

// firstKey returns the value of the first present key.
func firstKey(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
