package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"staybook/backend/internal/clock"
)

const DefaultSchedule = "@every 10m"

// Warmer preloads the rate cache for whole years.
type Warmer interface {
	WarmYears(ctx context.Context, years ...int) (int, error)
}

// Scheduler periodically warms the rate cache for the current and next year.
type Scheduler struct {
	cron     *cron.Cron
	warmer   Warmer
	clock    clock.Clock
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
}

func New(warmer Warmer, schedule string, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		warmer:   warmer,
		clock:    clk,
		logger:   logger.With("component", "scheduler"),
		schedule: schedule,
		timeout:  time.Minute,
	}
}

// Start registers the warm-up job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runWarm); err != nil {
		return fmt.Errorf("schedule rate cache warm-up %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled rate cache warm-up", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. The returned context is done once a running job
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// WarmNow loads the current and the next calendar year into the rate cache.
func (s *Scheduler) WarmNow(ctx context.Context) (int, error) {
	year := s.clock.Now().Year()
	entries, err := s.warmer.WarmYears(ctx, year, year+1)
	if err != nil {
		return 0, err
	}
	return entries, nil
}

func (s *Scheduler) runWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.WarmNow(ctx); err != nil {
		s.logger.Error("rate cache warm-up failed", "error", err)
	}
}
