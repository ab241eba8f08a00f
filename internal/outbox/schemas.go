package outbox

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"example.com/tachograph/pkg/events"
)

const complianceEvaluatedSchema = `{
  "type": "object",
  "title": "ComplianceEvaluated",
  "properties": {
    "evaluation_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "driver_id": {"type": "string"},
    "vehicle_registration": {"type": "string"},
    "source_shape": {"type": "string"},
    "period_start": {"type": "string", "format": "date-time"},
    "period_end": {"type": "string", "format": "date-time"},
    "segment_count": {"type": "integer", "minimum": 0},
    "skipped_count": {"type": "integer", "minimum": 0},
    "violation_count": {"type": "integer", "minimum": 0},
    "status": {"type": "string", "enum": ["compliant", "violations"]},
    "evaluated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["evaluation_id", "tenant_id", "driver_id", "source_shape", "segment_count", "skipped_count", "violation_count", "status", "evaluated_at"],
  "additionalProperties": false
}`

const violationsDetectedSchema = `{
  "type": "object",
  "title": "ViolationsDetected",
  "properties": {
    "evaluation_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "driver_id": {"type": "string"},
    "violations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "kind": {"type": "string", "enum": ["daily_driving", "weekly_driving", "break", "fortnight_driving"]},
          "start": {"type": "string", "format": "date-time"},
          "end": {"type": "string", "format": "date-time"},
          "driving_minutes": {"type": "integer"},
          "message": {"type": "string"}
        },
        "required": ["kind", "start", "driving_minutes", "message"],
        "additionalProperties": false
      }
    },
    "detected_at": {"type": "string", "format": "date-time"}
  },
  "required": ["evaluation_id", "tenant_id", "driver_id", "violations", "detected_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps an event type to its registered schema and the
// compiled form used to check payloads before they are published.
type SchemaCatalogEntry struct {
	Schema   string
	compiled *jsonschema.Schema
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeComplianceEvaluated: newCatalogEntry("compliance_evaluated", complianceEvaluatedSchema),
	events.TypeViolationsDetected:  newCatalogEntry("violations_detected", violationsDetectedSchema),
}

func newCatalogEntry(name, schema string) SchemaCatalogEntry {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://tachograph.schemas.local/events/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("outbox: load schema %s: %v", name, err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("outbox: compile schema %s: %v", name, err))
	}
	return SchemaCatalogEntry{Schema: schema, compiled: compiled}
}
