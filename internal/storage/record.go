package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names the back-end serving the Local Engine.
type Kind string

const (
	KindSQLite      Kind = "sqlite"
	KindFlatFile    Kind = "flatfile"
	KindUnavailable Kind = "unavailable"
)

// Collection is one of the fixed record collections.
type Collection string

const (
	Threads  Collection = "threads"
	Settings Collection = "settings"
)

// Collections lists every collection in a stable order.
func Collections() []Collection {
	return []Collection{Threads, Settings}
}

// ErrUnknownCollection is returned for a collection name outside the fixed set.
var ErrUnknownCollection = errors.New("unknown collection")

func (c Collection) validate() error {
	switch c {
	case Threads, Settings:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCollection, string(c))
}

// Record is a stored JSON document and its primary key.
type Record struct {
	ID   string
	Data json.RawMessage
}

// NewRecord encodes v and takes the primary key from its "id" field.
func NewRecord(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("encoding record: %w", err)
	}
	return RecordFromJSON(b), nil
}

// RecordFromJSON wraps raw JSON, extracting the primary key when the
// document is an object with a string "id". Anything else yields a record
// with an empty ID, which Valid rejects.
func RecordFromJSON(raw json.RawMessage) Record {
	var head struct {
		ID any `json:"id"`
	}
	r := Record{Data: bytes.Clone(raw)}
	if err := json.Unmarshal(raw, &head); err == nil {
		if id, ok := head.ID.(string); ok {
			r.ID = id
		}
	}
	return r
}

// Valid reports whether r is a structurally sound record: a JSON object
// with a non-empty primary key that matches its embedded id.
func (r Record) Valid() bool {
	if r.ID == "" {
		return false
	}
	trimmed := bytes.TrimSpace(r.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return false
	}
	return RecordFromJSON(trimmed).ID == r.ID
}

// Decode unmarshals the record document into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// FilterValid splits out records that fail Valid.
func FilterValid(records []Record) (valid []Record, removed int) {
	valid = make([]Record, 0, len(records))
	for _, r := range records {
		if r.Valid() {
			valid = append(valid, r)
			continue
		}
		removed++
	}
	return valid, removed
}

// withPrimaryKey drops records without a primary key. Those are rejected
// before a bulk replace instead of failing the whole write.
func withPrimaryKey(records []Record) (kept []Record, dropped int) {
	kept = make([]Record, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}
