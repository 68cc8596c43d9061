// Package schedule runs the fetch-and-process job on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one pipeline run.
type Job func(ctx context.Context) error

// Scheduler triggers a Job on a standard 5-field cron expression. Runs never
// overlap; a tick that fires while a run is in progress is skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	job     Job
	timeout time.Duration
	logger  *slog.Logger

	// base parents every scheduled run; Stop cancels it.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

var ErrRunning = errors.New("schedule: a run is already in progress")

func NewScheduler(spec string, job Job, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:    c,
		spec:    spec,
		job:     job,
		timeout: timeout,
		logger:  logger,
		base:    context.Background(),
		cancel:  func() {},
	}
}

// Start registers the job and begins ticking. Scheduled runs inherit ctx, so
// cancelling it aborts a run in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}

	s.base, s.cancel = context.WithCancel(ctx)

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", s.spec),
		slog.Time("next", s.Next()),
	)
	return nil
}

// Stop halts the ticker and cancels a run in progress. The returned context
// is done once that run has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	s.cancel()
	return s.cron.Stop()
}

// Next reports the next activation, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow runs the job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.acquire() {
		return ErrRunning
	}
	defer s.release()
	return s.run(ctx)
}

func (s *Scheduler) tick() {
	if !s.acquire() {
		s.logger.Warn("skipping scheduled run, previous run still in progress")
		return
	}
	defer s.release()

	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduled run failed", slog.Any("error", err))
	}
}

func (s *Scheduler) run(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("starting pipeline run")
	err := s.job(ctx)
	s.logger.Info("pipeline run finished",
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return err
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
