package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Engine is the Local Engine contract. The SQLite store and the flat-file
// fallback satisfy it identically.
type Engine interface {
	Kind() Kind
	// GetAll returns every record of c, or an empty slice when c is empty.
	GetAll(ctx context.Context, c Collection) ([]Record, error)
	GetByID(ctx context.Context, c Collection, id string) (Record, bool, error)
	// PutAll replaces the entire collection. Records without a primary key
	// are dropped before the replace; the replace itself is all-or-nothing.
	PutAll(ctx context.Context, c Collection, records []Record) error
	// Put inserts or replaces one record and reports whether it was an insert.
	Put(ctx context.Context, c Collection, r Record) (inserted bool, err error)
	// Delete reports false when id did not exist.
	Delete(ctx context.Context, c Collection, id string) (bool, error)
	// Clear empties both collections.
	Clear(ctx context.Context) error
	// SelfTest runs a probe write/read/delete and never fails.
	SelfTest(ctx context.Context) SelfTestResult
}

// Resetter is implemented by engines that can drop and re-create their
// storage from scratch.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Usage is the space used by an engine with a hard size ceiling.
type Usage struct {
	Used  int64
	Limit int64
}

// Ratio returns Used/Limit, or 0 when there is no limit.
func (u Usage) Ratio() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Limit)
}

// UsageReporter is implemented by engines with a size ceiling.
type UsageReporter interface {
	Usage() (Usage, error)
}

// SelfTestResult is the outcome of an engine probe.
type SelfTestResult struct {
	Available bool   `json:"available"`
	Working   bool   `json:"working"`
	Detail    string `json:"detail"`
}

const probePrefix = "__probe__"

func runSelfTest(ctx context.Context, e Engine) SelfTestResult {
	id := probePrefix + uuid.New().String()
	rec, err := NewRecord(map[string]any{
		"id":    id,
		"probe": true,
		"at":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return SelfTestResult{Available: true, Detail: fmt.Sprintf("building probe: %v", err)}
	}

	if _, err := e.Put(ctx, Settings, rec); err != nil {
		return SelfTestResult{Available: true, Detail: fmt.Sprintf("probe write failed: %v", err)}
	}

	got, ok, err := e.GetByID(ctx, Settings, id)
	switch {
	case err != nil:
		return SelfTestResult{Available: true, Detail: fmt.Sprintf("probe read failed: %v", err)}
	case !ok:
		return SelfTestResult{Available: true, Detail: "probe record missing after write"}
	case got.ID != id:
		return SelfTestResult{Available: true, Detail: fmt.Sprintf("probe read back id %q, want %q", got.ID, id)}
	}

	deleted, err := e.Delete(ctx, Settings, id)
	if err != nil {
		return SelfTestResult{Available: true, Detail: fmt.Sprintf("probe delete failed: %v", err)}
	}
	if !deleted {
		return SelfTestResult{Available: true, Detail: "probe delete reported missing record"}
	}

	return SelfTestResult{Available: true, Working: true, Detail: fmt.Sprintf("%s: probe written, read back and deleted", e.Kind())}
}
