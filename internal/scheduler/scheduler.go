package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
)

// JobReset names the reset job in logs and metrics.
const JobReset = "attendance_reset"

// Locker provides a best-effort exclusive claim shared between replicas.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

// Config collects the scheduler's dependencies.
type Config struct {
	Store    attendance.Store
	Calendar attendance.Calendar
	// Spec is a standard five-field cron expression. Empty uses the mode's default.
	Spec    string
	Timeout time.Duration
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Scheduler clears attendance state at every period boundary.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	spec     string
	store    attendance.Store
	calendar attendance.Calendar
	timeout  time.Duration
	locker   Locker
	lockTTL  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New validates the cron expression and registers the reset job. Call Start
// to begin ticking.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	s := &Scheduler{
		spec:     cfg.Spec,
		store:    cfg.Store,
		calendar: cfg.Calendar,
		timeout:  cfg.Timeout,
		locker:   cfg.Locker,
		lockTTL:  cfg.LockTTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
	if s.spec == "" {
		s.spec = s.calendar.ResetSpec()
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Minute
	}
	if s.lockTTL <= 0 {
		s.lockTTL = time.Hour
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.calendar.Location == nil {
		s.calendar.Location = time.Local
	}

	sched, err := cron.ParseStandard(s.spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", s.spec, err)
	}
	s.schedule = sched

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo))
	s.cron = cron.New(
		cron.WithLocation(s.calendar.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

// Spec returns the active cron expression.
func (s *Scheduler) Spec() string { return s.spec }

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.calendar.Location))
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reset scheduler started",
		slog.String("spec", s.spec),
		slog.Time("next", s.Next(s.now())))
}

// Stop prevents new ticks and waits for a running one, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Failures are logged in RunOnce; the next tick is the retry.
	_, _ = s.RunOnce(ctx)
}

// RunOnce performs a single reset: a blind bulk overwrite of every student's
// attendance state. When a Locker is configured only the first replica to
// claim the period performs it; the others skip.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	runID := uuid.NewString()
	periodStart := s.calendar.PeriodStart(s.now()).Format(attendance.DateLayout)
	logger := s.logger.With(
		slog.String("job", JobReset),
		slog.String("run_id", runID),
		slog.String("period_start", periodStart))

	if s.locker != nil {
		key := "rollcall:reset:" + periodStart
		ok, err := s.locker.TryLock(ctx, key, runID, s.lockTTL)
		switch {
		case err != nil:
			logger.Warn("reset lock unavailable, resetting without it", slog.Any("error", err))
		case !ok:
			logger.Info("reset already claimed by another replica")
			return 0, nil
		}
	}

	tracker := s.metrics.Track(JobReset)
	n, err := attendance.Reset(ctx, s.store, s.calendar.Mode)
	if tracker.End(err) != nil {
		logger.Error("attendance reset failed",
			slog.Int64("cleared", n),
			slog.Any("error", err))
		return n, err
	}
	s.metrics.AddReset(n)
	logger.Info("attendance reset", slog.Int64("cleared", n), slog.String("mode", string(s.calendar.Mode)))
	return n, nil
}
