package ingest

import "example.com/tachograph/internal/compliance"

// deepSearch is the fallback for layouts no schema matched. It walks the
// whole tree in key order and collects identity strings by alias, day
// records under a date context and segment records with absolute starts.
func deepSearch(value any) Record {
	s := &searcher{rec: Record{Days: make(map[string][]compliance.ActivityChange)}}
	s.walk(value, "")
	return s.rec
}

type searcher struct {
	rec Record
}

func (s *searcher) walk(value any, day string) {
	switch val := value.(type) {
	case map[string]any:
		if d := dateOf(val["date"]); d != "" {
			day = d
		}
		for _, key := range sortedKeys(val) {
			child := val[key]
			if str, ok := child.(string); ok {
				s.rec.Identity.set(globalAliases[canonicalKey(key)], str)
				continue
			}
			if datePattern.MatchString(key) {
				s.walk(child, key)
				continue
			}
			s.walk(child, day)
		}
	case []any:
		for _, item := range val {
			obj, ok := item.(map[string]any)
			if ok && s.collect(obj, day) {
				continue
			}
			s.walk(item, day)
		}
	}
}

// collect consumes obj when it looks like an activity record.
func (s *searcher) collect(obj map[string]any, day string) bool {
	if _, _, ok := coerceActivity(obj); !ok {
		return false
	}
	start, hasStart := firstKey(obj, clockStartKeys...)
	if !hasStart {
		return false
	}
	if str, ok := start.(string); ok && day != "" && clockPattern.MatchString(str) {
		if _, ok := obj["duration"]; !ok {
			return false
		}
		s.rec.Days[day] = append(s.rec.Days[day], changeFrom(obj))
		return true
	}
	if _, ok := coerceInstant(start); !ok {
		return false
	}
	_, hasEnd := firstKey(obj, instantEndKeys...)
	if _, hasDuration := obj["duration"]; !hasEnd && !hasDuration {
		return false
	}
	s.rec.Segments = append(s.rec.Segments, segmentFrom(obj))
	return true
}

// dateOf reads a calendar date from a "2024-05-06" or RFC3339 style string.
func dateOf(v any) string {
	str, ok := v.(string)
	if !ok || len(str) < 10 {
		return ""
	}
	if d := str[:10]; datePattern.MatchString(d) {
		return d
	}
	return ""
}
