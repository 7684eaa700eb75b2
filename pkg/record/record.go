// Package record holds the dynamic record type exchanged with the API and the
// shaping rules applied before a record is sent.
package record

import "maps"

// Well-known record fields.
const (
	FieldID         = "Id"
	FieldType       = "type"
	FieldAttributes = "attributes"
)

// Record is one API record as decoded from JSON.
type Record map[string]any

// Clone returns a shallow copy so shaping never mutates the caller's record.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// ID returns the record's Id field as a string, or "".
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	v, _ := r[field].(string)
	return v
}

// Type resolves the record's type: explicit wins, then attributes.type,
// then a top-level "type" field.
func (r Record) Type(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if attrs, ok := r[FieldAttributes].(map[string]any); ok {
		if t, ok := attrs["type"].(string); ok && t != "" {
			return t
		}
	}
	if attrs, ok := r[FieldAttributes].(Record); ok {
		if t := attrs.String("type"); t != "" {
			return t
		}
	}
	return r.String(FieldType)
}

// Payload returns a clone with the meta fields and any extra identifying
// fields removed, ready to be sent as a request body.
func (r Record) Payload(strip ...string) Record {
	out := r.Clone()
	delete(out, FieldType)
	delete(out, FieldAttributes)
	for _, f := range strip {
		delete(out, f)
	}
	return out
}

// SaveResult is the per-record outcome of create, update, upsert and destroy.
type SaveResult struct {
	ID      string  `json:"id,omitempty"`
	Success bool    `json:"success"`
	Errors  []Error `json:"errors"`
}

// Error is one server-reported error entry.
type Error struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode,omitempty"`
	Fields    []string `json:"fields,omitempty"`
}

// Succeeded fabricates the result used when the server answers with no body.
func Succeeded(id string) SaveResult {
	return SaveResult{ID: id, Success: true, Errors: []Error{}}
}
