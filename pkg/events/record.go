package events

import "encoding/json"

// TypeRecordParsed names messages on the records topic.
const TypeRecordParsed = "tachograph.record_parsed"

// RecordParsed is the envelope the parsing pipeline publishes to the records
// topic. Documents holds one or more raw parser outputs for the same card.
// A bare parser output without the envelope is accepted as well.
type RecordParsed struct {
	TenantID  string            `json:"tenant_id"`
	RecordID  string            `json:"record_id"`
	Source    string            `json:"source,omitempty"`
	Documents []json.RawMessage `json:"documents"`
}
