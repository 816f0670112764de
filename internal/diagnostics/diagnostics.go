// Package diagnostics self-tests, dumps, repairs and maintains the
// storage layer. Nothing here returns a probe failure as an error:
// failures are reported as data.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/facade"
	"github.com/kalambet/threadmark/internal/storage"
)

// Step names, in execution order.
const (
	StepStorageType          = "storage-type"
	StepEngineAvailability   = "engine-availability"
	StepWriteReadProbe       = "write-read-probe"
	StepExistingData         = "existing-data"
	StepCapacity             = "capacity"
	StepPersistenceRoundTrip = "persistence-round-trip"
	StepAlternativeBackend   = "alternative-backend"
)

// CapacityWarnRatio is the used/limit ratio at which the capacity step fails.
const CapacityWarnRatio = 0.9

// TestThreadPrefix marks the disposable thread used by the round-trip step.
const TestThreadPrefix = "diagnostic-test-"

// LocalStore is the Local Engine surface diagnostics reach into directly.
// Implemented by storage.Local.
type LocalStore interface {
	storage.Engine
	storage.Resetter
	Usage() (storage.Usage, bool, error)
	PrimaryError() error
	FlatFile() (*storage.FlatFile, error)
}

// Threads is the facade surface used by the round-trip step.
// Implemented by facade.Facade.
type Threads interface {
	SaveThread(ctx context.Context, t domain.Thread) (domain.Thread, error)
	GetThread(ctx context.Context, id string) (domain.Thread, bool)
	DeleteThread(ctx context.Context, id string) (bool, error)
	StorageType() string
	ActiveBackend() facade.Backend
	// InvalidateSettings drops any cached settings document after a
	// direct rewrite of the settings collection.
	InvalidateSettings()
}

// Pinger checks hub reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Diagnostics runs checks and repairs against the Local Engine and the facade.
type Diagnostics struct {
	local   LocalStore
	threads Threads
	hub     Pinger
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Diagnostics. hub may be nil when no hub is configured.
func New(local LocalStore, threads Threads, hub Pinger, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{
		local:   local,
		threads: threads,
		hub:     hub,
		logger:  logger.With("component", "diagnostics"),
		now:     time.Now,
	}
}

// Step is the outcome of one check.
type Step struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of RunDiagnostics.
type Report struct {
	Steps   []Step    `json:"steps"`
	OK      bool      `json:"ok"`
	Summary string    `json:"summary"`
	RanAt   time.Time `json:"ranAt"`
}

// Failed returns the names of failing steps.
func (r Report) Failed() []string {
	var names []string
	for _, s := range r.Steps {
		if !s.Passed {
			names = append(names, s.Name)
		}
	}
	return names
}

type check struct {
	name string
	run  func(ctx context.Context) (bool, string)
}

// RunDiagnostics executes every check in order. It only reads, apart from
// the throwaway probe records it removes again.
func (d *Diagnostics) RunDiagnostics(ctx context.Context) Report {
	checks := []check{
		{StepStorageType, d.checkStorageType},
		{StepEngineAvailability, d.checkAvailability},
		{StepWriteReadProbe, d.checkWriteRead},
		{StepExistingData, d.checkExistingData},
		{StepCapacity, d.checkCapacity},
		{StepPersistenceRoundTrip, d.checkRoundTrip},
		{StepAlternativeBackend, d.checkAlternative},
	}

	report := Report{RanAt: d.now().UTC(), OK: true}
	for _, c := range checks {
		start := time.Now()
		passed, detail := d.safely(ctx, c)
		step := Step{Name: c.name, Passed: passed, Detail: detail, Duration: time.Since(start)}
		report.Steps = append(report.Steps, step)
		report.OK = report.OK && passed
		d.logger.Debug("diagnostic step", "step", c.name, "passed", passed, "detail", detail)
	}

	if failed := report.Failed(); len(failed) > 0 {
		report.Summary = fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(report.Steps), strings.Join(failed, ", "))
	} else {
		report.Summary = fmt.Sprintf("all %d checks passed", len(report.Steps))
	}
	d.logger.Info("diagnostics complete", "ok", report.OK, "summary", report.Summary)
	return report
}

// safely turns a panicking check into a failed step.
func (d *Diagnostics) safely(ctx context.Context, c check) (passed bool, detail string) {
	defer func() {
		if r := recover(); r != nil {
			passed, detail = false, fmt.Sprintf("check panicked: %v", r)
		}
	}()
	return c.run(ctx)
}

func (d *Diagnostics) checkStorageType(context.Context) (bool, string) {
	kind := d.local.Kind()
	detail := fmt.Sprintf("local engine: %s; active backend: %s (%s)", kind, d.threads.ActiveBackend(), d.threads.StorageType())
	return kind != storage.KindUnavailable, detail
}

func (d *Diagnostics) checkAvailability(ctx context.Context) (bool, string) {
	res := d.local.SelfTest(ctx)
	if !res.Available {
		return false, "local engine unavailable: " + res.Detail
	}
	if !res.Working {
		return false, "local engine opened but self-test failed: " + res.Detail
	}
	return true, res.Detail
}

func (d *Diagnostics) checkWriteRead(ctx context.Context) (bool, string) {
	id := "__diagnostic__" + uuid.NewString()
	payload := map[string]any{"id": id, "probe": true, "at": d.now().UTC().Format(time.RFC3339Nano)}
	rec, err := storage.NewRecord(payload)
	if err != nil {
		return false, err.Error()
	}
	defer d.local.Delete(context.WithoutCancel(ctx), storage.Settings, id)

	if _, err := d.local.Put(ctx, storage.Settings, rec); err != nil {
		return false, "write failed: " + err.Error()
	}
	got, ok, err := d.local.GetByID(ctx, storage.Settings, id)
	if err != nil {
		return false, "read failed: " + err.Error()
	}
	if !ok {
		return false, "probe record missing after write"
	}
	if !jsonEqual(got.Data, rec.Data) {
		return false, "probe record read back differs from what was written"
	}
	deleted, err := d.local.Delete(ctx, storage.Settings, id)
	if err != nil || !deleted {
		return false, fmt.Sprintf("probe cleanup failed (deleted=%v, err=%v)", deleted, err)
	}
	return true, "probe record written, read back and deleted"
}

func (d *Diagnostics) checkExistingData(ctx context.Context) (bool, string) {
	var parts []string
	for _, c := range storage.Collections() {
		records, err := d.local.GetAll(ctx, c)
		if err != nil {
			return false, fmt.Sprintf("reading %s: %v", c, err)
		}
		_, invalid := storage.FilterValid(records)
		parts = append(parts, fmt.Sprintf("%s: %d records (%d invalid)", c, len(records), invalid))
	}
	return true, strings.Join(parts, "; ")
}

func (d *Diagnostics) checkCapacity(context.Context) (bool, string) {
	u, ok, err := d.local.Usage()
	if err != nil {
		return false, "measuring usage: " + err.Error()
	}
	if !ok {
		return true, fmt.Sprintf("%s has no fixed size ceiling", d.local.Kind())
	}
	detail := fmt.Sprintf("%d of %d bytes used (%.1f%%)", u.Used, u.Limit, u.Ratio()*100)
	if u.Ratio() >= CapacityWarnRatio {
		return false, detail + "; nearly full, export a backup and prune threads"
	}
	return true, detail
}

func (d *Diagnostics) checkRoundTrip(ctx context.Context) (bool, string) {
	id := TestThreadPrefix + uuid.NewString()
	in := domain.Thread{
		ID:    id,
		Title: "diagnostic round trip",
		Messages: []domain.Message{
			{ID: id + "-m1", Role: domain.RoleUser, Content: "ping"},
			{ID: id + "-m2", Role: domain.RoleAssistant, Content: "pong"},
		},
	}
	cleanup := context.WithoutCancel(ctx)
	defer d.threads.DeleteThread(cleanup, id)

	if _, err := d.threads.SaveThread(ctx, in); err != nil {
		return false, fmt.Sprintf("saving test thread via %s: %v", d.threads.StorageType(), err)
	}
	out, ok := d.threads.GetThread(ctx, id)
	if !ok {
		return false, "test thread not found after save"
	}
	if len(out.Messages) != len(in.Messages) || out.Messages[1].Content != "pong" {
		return false, "test thread read back with different messages"
	}
	deleted, err := d.threads.DeleteThread(ctx, id)
	if err != nil || !deleted {
		return false, fmt.Sprintf("deleting test thread failed (deleted=%v, err=%v)", deleted, err)
	}
	if _, ok := d.threads.GetThread(ctx, id); ok {
		return false, "test thread still present after delete"
	}
	return true, fmt.Sprintf("saved, read and deleted a test thread via %s", d.threads.StorageType())
}

func (d *Diagnostics) checkAlternative(ctx context.Context) (bool, string) {
	var hub string
	if d.hub != nil {
		if err := d.hub.Ping(ctx); err != nil {
			hub = "; hub unreachable: " + err.Error()
		} else {
			hub = "; hub reachable"
		}
	}

	switch d.local.Kind() {
	case storage.KindSQLite:
		ff, err := d.local.FlatFile()
		if err != nil {
			return false, "flat-file fallback cannot be opened: " + err.Error() + hub
		}
		res := ff.SelfTest(ctx)
		if !res.Working {
			return false, "flat-file fallback self-test failed: " + res.Detail + hub
		}
		return true, "flat-file fallback available in " + ff.Dir() + hub
	case storage.KindFlatFile:
		if err := d.local.PrimaryError(); err != nil {
			return false, "embedded database unavailable: " + err.Error() + hub
		}
		return true, "flat-file store selected by configuration; embedded database not attempted" + hub
	default:
		return false, "no local engine could be opened" + hub
	}
}

func jsonEqual(a, b []byte) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return bytes.Equal(a, b)
	}
	ja, _ := json.Marshal(x)
	jb, _ := json.Marshal(y)
	return bytes.Equal(ja, jb)
}
