package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single maintenance job.
const jobTimeout = time.Minute

// Job is a maintenance task run on the sweeper schedule. It returns how
// many items it removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Sweeper runs the maintenance jobs on a cron schedule. Overlapping runs
// are skipped.
type Sweeper struct {
	cron   *cron.Cron
	jobs   []Job
	logger *slog.Logger
}

// NewSweeper parses schedule (standard five-field or "@every 10m") and
// registers jobs.
func NewSweeper(schedule string, jobs []Job, logger *slog.Logger) (*Sweeper, error) {
	cl := cronLogger{logger: logger}
	s := &Sweeper{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		jobs:   jobs,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.logger.Info("sweeper started", slog.Int("jobs", len(s.jobs)))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper did not finish before shutdown")
	}
}

// RunOnce runs every job once. A failing job does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for _, job := range s.jobs {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		n, err := job.Run(jobCtx)
		cancel()

		if err != nil {
			s.logger.Error("sweep job failed", slog.String("job", job.Name), slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			s.logger.Info("sweep job removed items", slog.String("job", job.Name), slog.Int64("removed", n))
		}
	}
}

// cronLogger sends cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
