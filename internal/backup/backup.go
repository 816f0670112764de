// Package backup reads and writes the portable backup document
// {threads, settings, exportedAt | backupTime, version, storageType}.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kalambet/threadmark/internal/domain"
)

// Version is the only backup format version read or written.
const Version = "1.0"

// Mode selects how Import applies a backup.
type Mode string

const (
	// ModeReplace overwrites threads and settings wholesale.
	ModeReplace Mode = "replace"
	// ModeMerge upserts threads by id and overlays settings keys.
	ModeMerge Mode = "merge"
)

// ParseMode accepts "replace" or "merge"; empty means merge.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("%w: unknown import mode %q (want %q or %q)", domain.ErrInvalidRecord, s, ModeReplace, ModeMerge)
	}
}

// File is a decoded backup document.
type File struct {
	Threads     []domain.Thread
	Settings    domain.Settings
	ExportedAt  time.Time
	Version     string
	StorageType string
}

type wireFile struct {
	Threads     *[]domain.Thread  `json:"threads"`
	Settings    domain.Settings   `json:"settings"`
	ExportedAt  *domain.Timestamp `json:"exportedAt,omitempty"`
	BackupTime  *domain.Timestamp `json:"backupTime,omitempty"`
	Version     string            `json:"version"`
	StorageType string            `json:"storageType,omitempty"`
}

func (f File) MarshalJSON() ([]byte, error) {
	threads := f.Threads
	if threads == nil {
		threads = []domain.Thread{}
	}
	settings := f.Settings
	if settings == nil {
		settings = domain.Settings{}
	}
	at := domain.At(f.ExportedAt)
	return json.Marshal(wireFile{
		Threads:     &threads,
		Settings:    settings,
		ExportedAt:  &at,
		Version:     f.Version,
		StorageType: f.StorageType,
	})
}

// Source is what Export reads. Implemented by facade.Facade.
type Source interface {
	GetThreads(ctx context.Context) []domain.Thread
	GetSettings(ctx context.Context) domain.Settings
	StorageType() string
}

// Target is what Import writes. Implemented by facade.Facade.
type Target interface {
	SaveThreads(ctx context.Context, threads []domain.Thread) error
	ReplaceThreads(ctx context.Context, threads []domain.Thread) error
	SaveSettings(ctx context.Context, s domain.Settings) error
	MergeSettings(ctx context.Context, s domain.Settings) error
}

// Export snapshots the threads and settings visible through src.
func Export(ctx context.Context, src Source, now time.Time) File {
	return File{
		Threads:     src.GetThreads(ctx),
		Settings:    src.GetSettings(ctx),
		ExportedAt:  now.UTC(),
		Version:     Version,
		StorageType: src.StorageType(),
	}
}

// Write encodes f as indented JSON.
func Write(w io.Writer, f File) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Decode reads a backup document. Either exportedAt or backupTime is
// accepted as the snapshot time. A missing threads array or an unknown
// version is rejected.
func Decode(r io.Reader) (File, error) {
	var w wireFile
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return File{}, fmt.Errorf("%w: decoding backup: %v", domain.ErrInvalidRecord, err)
	}
	if w.Threads == nil {
		return File{}, fmt.Errorf("%w: backup has no threads array", domain.ErrInvalidRecord)
	}
	if w.Version != Version {
		return File{}, fmt.Errorf("%w: unsupported backup version %q", domain.ErrInvalidRecord, w.Version)
	}

	f := File{
		Threads:     make([]domain.Thread, 0, len(*w.Threads)),
		Settings:    w.Settings,
		Version:     w.Version,
		StorageType: w.StorageType,
	}
	switch {
	case w.ExportedAt != nil:
		f.ExportedAt = w.ExportedAt.Time
	case w.BackupTime != nil:
		f.ExportedAt = w.BackupTime.Time
	}
	for _, t := range *w.Threads {
		if err := t.Validate(); err != nil {
			return File{}, fmt.Errorf("backup thread %d: %w", len(f.Threads), err)
		}
		t.Normalize()
		f.Threads = append(f.Threads, t)
	}
	delete(f.Settings, "id")
	return f, nil
}

// Result reports what Import applied.
type Result struct {
	Mode     Mode `json:"mode"`
	Threads  int  `json:"threads"`
	Settings bool `json:"settings"`
}

// Import applies f to dst. Settings are left alone when the backup has none.
func Import(ctx context.Context, dst Target, f File, mode Mode) (Result, error) {
	res := Result{Mode: mode}
	switch mode {
	case ModeReplace:
		if err := dst.ReplaceThreads(ctx, f.Threads); err != nil {
			return res, fmt.Errorf("replacing threads: %w", err)
		}
	case ModeMerge:
		if err := dst.SaveThreads(ctx, f.Threads); err != nil {
			return res, fmt.Errorf("merging threads: %w", err)
		}
	default:
		return res, fmt.Errorf("%w: unknown import mode %q", domain.ErrInvalidRecord, mode)
	}
	res.Threads = len(f.Threads)

	if f.Settings == nil {
		return res, nil
	}
	var err error
	if mode == ModeReplace {
		err = dst.SaveSettings(ctx, f.Settings)
	} else {
		err = dst.MergeSettings(ctx, f.Settings)
	}
	if err != nil {
		return res, fmt.Errorf("restoring settings: %w", err)
	}
	res.Settings = true
	return res, nil
}
