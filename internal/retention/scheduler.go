package retention

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/reflux-run/reflux/internal/core"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
	"github.com/reflux-run/reflux/pkg/logger"
)

// DailySchedule runs cleanup once a day, matching spec §4.4's "scheduled
// mode is a durable task that sleeps 24h between runs." Grounded on the
// teacher's internal/app/services/automation/scheduler.go tick-loop
// lifecycle shape, generalized from a time.Ticker to a
// github.com/robfig/cron/v3 schedule (the teacher's own automation
// package dependency) so the cadence is expressed declaratively rather
// than as a bare time.Sleep(24*time.Hour).
const DailySchedule = "@daily"

// Scheduler runs Service.Cleanup on a cron cadence, continuing across
// failures: a failed run is logged and the next scheduled tick still
// fires.
type Scheduler struct {
	service *Service
	log     *logger.Logger
	spec    string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler constructs a Scheduler bound to service, firing on spec's
// cron expression (DailySchedule if empty).
func NewScheduler(service *Service, spec string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("retention-scheduler")
	}
	if spec == "" {
		spec = DailySchedule
	}
	return &Scheduler{service: service, log: log, spec: spec}
}

func (s *Scheduler) Name() string { return "retention-scheduler" }

// Descriptor advertises the scheduler's architectural placement.
func (s *Scheduler) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "retention-scheduler",
		Domain:       "retention",
		Layer:        core.LayerEngine,
		Capabilities: []string{"schedule", "cleanup"},
	}
}

// Start registers the cron job and begins running it. The first cleanup
// fires at the next scheduled tick, not immediately, per the teacher's
// scheduler convention of not front-loading work at startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		s.mu.Unlock()
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	s.mu.Unlock()

	s.log.WithField("schedule", s.spec).Info("retention scheduler started")
	return nil
}

// Stop halts the cron job, waiting for any in-flight run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("retention scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	result, err := s.service.Cleanup(ctx, Request{DryRun: false, TriggeredBy: cleanupaudit.TriggeredScheduled})
	if err != nil {
		if err == ErrLockHeld {
			s.log.Info("retention cleanup skipped: lock held by another instance")
			return
		}
		s.log.WithError(err).Warn("scheduled retention cleanup failed")
		return
	}
	s.log.WithFields(map[string]any{
		"deleted": result.Deleted.Total(),
		"errors":  len(result.Errors),
	}).Info("scheduled retention cleanup completed")
}
