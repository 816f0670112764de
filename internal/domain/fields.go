package domain

import (
	"encoding/json"
	"fmt"
)

// Fields is a partial thread update keyed by JSON field name.
type Fields map[string]any

// FieldsOf returns every mutable field of t as a partial update. The title
// is always present so that saving an empty title clears it.
func FieldsOf(t Thread) (Fields, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	delete(f, "id")
	f["title"] = t.Title
	return f, nil
}

// Merge overlays f onto t. The id is immutable and ignored; IsAnnotated is
// always derived from the merged annotations.
func (t Thread) Merge(f Fields) (Thread, error) {
	base, err := json.Marshal(t)
	if err != nil {
		return Thread{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(base, &doc); err != nil {
		return Thread{}, err
	}
	for k, v := range f {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return Thread{}, fmt.Errorf("%w: encoding update: %v", ErrInvalidRecord, err)
	}
	var out Thread
	if err := json.Unmarshal(merged, &out); err != nil {
		return Thread{}, fmt.Errorf("%w: applying update: %v", ErrInvalidRecord, err)
	}
	out.ID = t.ID
	out.Normalize()
	return out, nil
}
