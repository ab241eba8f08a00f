// Package ingest turns parser output of known JSON shapes into records the
// compliance engine can normalize.
package ingest

import (
	"sort"
	"time"

	"example.com/tachograph/internal/compliance"
)

// Shape names a known parser output layout.
type Shape string

const (
	// ShapeDailyActivities keys activity records by local date.
	ShapeDailyActivities Shape = "daily_activities"
	// ShapeSegmentList lists segments with absolute instants.
	ShapeSegmentList Shape = "segment_list"
	// ShapeDeepSearch marks a record recovered by walking an unknown layout.
	ShapeDeepSearch Shape = "deep_search"
	// ShapeMerged marks a record combined from several shapes.
	ShapeMerged Shape = "merged"
)

// Identity holds the driver and vehicle identification found in a record.
type Identity struct {
	DriverCardNumber    string `json:"driver_card_number,omitempty" yaml:"driver_card_number,omitempty"`
	DriverName          string `json:"driver_name,omitempty" yaml:"driver_name,omitempty"`
	VehicleRegistration string `json:"vehicle_registration,omitempty" yaml:"vehicle_registration,omitempty"`
	VIN                 string `json:"vin,omitempty" yaml:"vin,omitempty"`
}

func (id Identity) merge(other Identity) Identity {
	if id.DriverCardNumber == "" {
		id.DriverCardNumber = other.DriverCardNumber
	}
	if id.DriverName == "" {
		id.DriverName = other.DriverName
	}
	if id.VehicleRegistration == "" {
		id.VehicleRegistration = other.VehicleRegistration
	}
	if id.VIN == "" {
		id.VIN = other.VIN
	}
	return id
}

// Record is one decoded tachograph document.
type Record struct {
	Shape    Shape
	Identity Identity
	Days     map[string][]compliance.ActivityChange
	Segments []compliance.SegmentRecord
}

// Empty reports whether the record carries no activity data at all.
func (r Record) Empty() bool {
	for _, changes := range r.Days {
		if len(changes) > 0 {
			return false
		}
	}
	return len(r.Segments) == 0
}

// Source converts the record to normalizer input. loc interprets local day
// records; nil means UTC.
func (r Record) Source(loc *time.Location) compliance.Source {
	return compliance.Source{Days: r.Days, Segments: r.Segments, Location: loc}
}

// Merge combines records decoded from several parsers for the same card.
// Identity fields keep the first non-empty value; activity data is
// concatenated and left to the normalizer to de-duplicate.
func Merge(records ...Record) Record {
	var out Record
	shapes := make(map[Shape]struct{})
	for _, rec := range records {
		shapes[rec.Shape] = struct{}{}
		out.Identity = out.Identity.merge(rec.Identity)
		for day, changes := range rec.Days {
			if out.Days == nil {
				out.Days = make(map[string][]compliance.ActivityChange)
			}
			out.Days[day] = append(out.Days[day], changes...)
		}
		out.Segments = append(out.Segments, rec.Segments...)
	}

	switch len(shapes) {
	case 0:
	case 1:
		for shape := range shapes {
			out.Shape = shape
		}
	default:
		out.Shape = ShapeMerged
	}
	return out
}

// Shapes lists the explicitly supported layouts in detection order.
func Shapes() []Shape {
	out := make([]Shape, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.shape)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
