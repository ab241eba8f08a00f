package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"example.com/tachograph/internal/compliance"
)

var (
	// ErrEmptyDocument is returned for blank input.
	ErrEmptyDocument = errors.New("ingest: empty document")
	// ErrNoActivity is returned when a document decodes but holds no
	// activity data.
	ErrNoActivity = errors.New("ingest: no activity data in document")
)

const dailyActivitiesSchema = `{
  "type": "object",
  "required": ["activities"],
  "properties": {
    "driver": {"type": "object"},
    "vehicle": {"type": "object"},
    "activities": {
      "type": "object",
      "minProperties": 1,
      "propertyNames": {"pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
      "additionalProperties": {
        "type": "array",
        "items": {"type": "object", "required": ["from", "duration"]}
      }
    }
  }
}`

const segmentListSchema = `{
  "type": "object",
  "required": ["segments"],
  "properties": {
    "driver": {"type": "object"},
    "vehicle": {"type": "object"},
    "segments": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["start"],
        "anyOf": [{"required": ["end"]}, {"required": ["duration"]}]
      }
    }
  }
}`

type adapter struct {
	shape   Shape
	schema  *jsonschema.Schema
	extract func(doc map[string]any) Record
}

var adapters = []adapter{
	{shape: ShapeDailyActivities, schema: mustCompile("daily_activities", dailyActivitiesSchema), extract: extractDailyActivities},
	{shape: ShapeSegmentList, schema: mustCompile("segment_list", segmentListSchema), extract: extractSegmentList},
}

func mustCompile(name, schema string) *jsonschema.Schema {
	url := fmt.Sprintf("https://tachograph.schemas.local/ingest/%s.schema.json", name)
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("ingest: add schema %s: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("ingest: compile schema %s: %v", name, err))
	}
	return compiled
}

// Decode detects the shape of one parser output and extracts its identity
// and activity records. The first explicit shape whose schema validates
// wins; unknown layouts fall back to a deep search of the whole tree.
func Decode(doc []byte) (Record, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return Record{}, ErrEmptyDocument
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Record{}, fmt.Errorf("ingest: decode document: %w", err)
	}

	rec := detect(value)
	if rec.Empty() {
		return rec, ErrNoActivity
	}
	return rec, nil
}

// Detect reports which shape Decode would use for an already decoded value.
func Detect(value any) Shape {
	for _, a := range adapters {
		if a.schema.Validate(value) == nil {
			return a.shape
		}
	}
	return ShapeDeepSearch
}

func detect(value any) Record {
	for _, a := range adapters {
		if a.schema.Validate(value) != nil {
			continue
		}
		rec := a.extract(value.(map[string]any))
		rec.Shape = a.shape
		return rec
	}
	rec := deepSearch(value)
	rec.Shape = ShapeDeepSearch
	return rec
}

func extractDailyActivities(doc map[string]any) Record {
	rec := Record{
		Identity: explicitIdentity(doc),
		Days:     make(map[string][]compliance.ActivityChange),
	}
	activities, _ := doc["activities"].(map[string]any)
	for _, day := range sortedKeys(activities) {
		items, _ := activities[day].([]any)
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec.Days[day] = append(rec.Days[day], changeFrom(obj))
		}
	}
	return rec
}

func extractSegmentList(doc map[string]any) Record {
	rec := Record{Identity: explicitIdentity(doc)}
	items, _ := doc["segments"].([]any)
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec.Segments = append(rec.Segments, segmentFrom(obj))
	}
	return rec
}

var (
	clockStartKeys   = []string{"from", "start", "time", "begin"}
	instantStartKeys = []string{"start", "begin", "from", "started_at", "startTime", "time"}
	instantEndKeys   = []string{"end", "until", "to", "ended_at", "endTime"}
)

func changeFrom(obj map[string]any) compliance.ActivityChange {
	code, label, _ := coerceActivity(obj)
	from, _ := firstKey(obj, clockStartKeys...)
	return compliance.ActivityChange{
		Code:     code,
		Label:    label,
		From:     coerceClock(from),
		Duration: coerceClock(obj["duration"]),
	}
}

// segmentFrom leaves Start zero when it cannot be read; the normalizer
// reports such records as malformed.
func segmentFrom(obj map[string]any) compliance.SegmentRecord {
	code, label, _ := coerceActivity(obj)
	rec := compliance.SegmentRecord{Code: code, Label: label}
	if raw, ok := firstKey(obj, instantStartKeys...); ok {
		rec.Start, _ = coerceInstant(raw)
	}
	if raw, ok := firstKey(obj, instantEndKeys...); ok {
		rec.End, _ = coerceInstant(raw)
	}
	if raw, ok := obj["duration"]; ok {
		rec.Duration, _ = coerceDuration(raw)
	}
	return rec
}
