package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/threadmark/internal/facade"
	"github.com/kalambet/threadmark/internal/storage"
)

// DumpReport is a raw snapshot of the Local Engine for support requests.
type DumpReport struct {
	StorageType   string            `json:"storageType"`
	ActiveBackend facade.Backend    `json:"activeBackend"`
	Threads       []json.RawMessage `json:"threads"`
	Settings      []json.RawMessage `json:"settings"`
	InvalidCount  int               `json:"invalidCount"`
	GeneratedAt   time.Time         `json:"generatedAt"`
}

// Dump returns every stored record verbatim, including invalid ones.
func (d *Diagnostics) Dump(ctx context.Context) DumpReport {
	out := DumpReport{
		StorageType:   string(d.local.Kind()),
		ActiveBackend: d.threads.ActiveBackend(),
		Threads:       []json.RawMessage{},
		Settings:      []json.RawMessage{},
		GeneratedAt:   d.now().UTC(),
	}
	for _, c := range storage.Collections() {
		records, err := d.local.GetAll(ctx, c)
		if err != nil {
			d.logger.Warn("dump could not read collection", "collection", c, "error", err)
			continue
		}
		_, invalid := storage.FilterValid(records)
		out.InvalidCount += invalid
		raws := make([]json.RawMessage, 0, len(records))
		for _, r := range records {
			raws = append(raws, r.Data)
		}
		if c == storage.Threads {
			out.Threads = raws
		} else {
			out.Settings = raws
		}
	}
	return out
}

// RepairReport describes what RepairStorage did.
type RepairReport struct {
	Kept         map[storage.Collection]int `json:"kept"`
	Removed      map[storage.Collection]int `json:"removed"`
	FallbackUsed bool                       `json:"fallbackUsed"`
	Detail       string                     `json:"detail"`
}

// RepairStorage keeps only structurally valid records, resets the engine
// and writes them back. If the engine cannot be reset or written, one
// attempt is made to save the records into the flat-file store. A read
// failure other than storage.ErrCorrupt aborts before anything is reset.
func (d *Diagnostics) RepairStorage(ctx context.Context) (RepairReport, error) {
	rep := RepairReport{
		Kept:    map[storage.Collection]int{},
		Removed: map[storage.Collection]int{},
	}

	valid := map[storage.Collection][]storage.Record{}
	for _, c := range storage.Collections() {
		records, err := d.local.GetAll(ctx, c)
		switch {
		case errors.Is(err, storage.ErrCorrupt):
			d.logger.Warn("collection is corrupt, repairing it as empty", "collection", c, "error", err)
			records = nil
		case err != nil:
			rep.Detail = fmt.Sprintf("%s could not be read; nothing was changed", c)
			return rep, fmt.Errorf("reading %s before repair: %w", c, err)
		}
		kept, removed := storage.FilterValid(records)
		valid[c] = kept
		rep.Kept[c] = len(kept)
		rep.Removed[c] = removed
	}

	err := d.rewrite(ctx, valid)
	d.threads.InvalidateSettings()
	if err == nil {
		rep.Detail = fmt.Sprintf("%s reset; %d threads and %d settings records restored", d.local.Kind(), rep.Kept[storage.Threads], rep.Kept[storage.Settings])
		d.logger.Info("storage repaired", "kept", rep.Kept, "removed", rep.Removed)
		return rep, nil
	}
	d.logger.Error("repair of primary engine failed, writing to flat-file store", "error", err)

	rep.FallbackUsed = true
	ff, ffErr := d.local.FlatFile()
	if ffErr == nil {
		for _, c := range storage.Collections() {
			if ffErr = ff.PutAll(ctx, c, valid[c]); ffErr != nil {
				break
			}
		}
	}
	if ffErr != nil {
		rep.Detail = "repair failed and the flat-file fallback write failed too"
		return rep, errors.Join(fmt.Errorf("repairing %s: %w", d.local.Kind(), err), fmt.Errorf("fallback write: %w", ffErr))
	}
	rep.Detail = fmt.Sprintf("%s could not be repaired (%v); valid records saved to %s", d.local.Kind(), err, ff.Dir())
	return rep, nil
}

func (d *Diagnostics) rewrite(ctx context.Context, valid map[storage.Collection][]storage.Record) error {
	if err := d.local.Reset(ctx); err != nil {
		return fmt.Errorf("resetting: %w", err)
	}
	for _, c := range storage.Collections() {
		if err := d.local.PutAll(ctx, c, valid[c]); err != nil {
			return fmt.Errorf("restoring %s: %w", c, err)
		}
	}
	return nil
}

// MaintenanceReport describes what PerformMaintenance did.
type MaintenanceReport struct {
	Removed   map[storage.Collection]int `json:"removed"`
	Rewritten []storage.Collection       `json:"rewritten"`
}

// PerformMaintenance drops invalid records, rewriting a collection only
// when something was removed from it.
func (d *Diagnostics) PerformMaintenance(ctx context.Context) (MaintenanceReport, error) {
	rep := MaintenanceReport{Removed: map[storage.Collection]int{}, Rewritten: []storage.Collection{}}
	for _, c := range storage.Collections() {
		records, err := d.local.GetAll(ctx, c)
		if err != nil {
			return rep, fmt.Errorf("reading %s: %w", c, err)
		}
		valid, removed := storage.FilterValid(records)
		rep.Removed[c] = removed
		if removed == 0 {
			continue
		}
		if err := d.local.PutAll(ctx, c, valid); err != nil {
			return rep, fmt.Errorf("rewriting %s: %w", c, err)
		}
		rep.Rewritten = append(rep.Rewritten, c)
		if c == storage.Settings {
			d.threads.InvalidateSettings()
		}
	}
	if len(rep.Rewritten) > 0 {
		d.logger.Info("maintenance removed invalid records", "removed", rep.Removed)
	}
	return rep, nil
}
