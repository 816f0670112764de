package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs PerformMaintenance on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	diag   *Diagnostics
	writes sync.Locker
	logger *slog.Logger
}

// ParseSchedule validates a standard five-field cron spec or a descriptor
// such as "@daily".
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return s, nil
}

// NewScheduler registers maintenance at spec. writes, when non-nil, is
// held for the duration of each run so maintenance does not interleave
// with API writes.
func NewScheduler(spec string, diag *Diagnostics, writes sync.Locker, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(),
		diag:   diag,
		writes: writes,
		logger: logger.With("component", "maintenance"),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.run))
	return s, nil
}

func (s *Scheduler) run() {
	if s.writes != nil {
		s.writes.Lock()
		defer s.writes.Unlock()
	}
	rep, err := s.diag.PerformMaintenance(context.Background())
	if err != nil {
		s.logger.Error("scheduled maintenance failed", "error", err)
		return
	}
	s.logger.Debug("scheduled maintenance finished", "removed", rep.Removed, "rewritten", rep.Rewritten)
}

// Start runs the scheduler until ctx is cancelled, then waits for a
// running job to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("maintenance scheduled", "next", s.cron.Entries()[0].Next)
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
