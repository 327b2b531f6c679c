// Package scheduler triggers population of a trailing date window on a fixed
// cadence through the same gateway entry point HTTP callers use.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/peanutgallery/catalog/internal/api/v1"
	"github.com/peanutgallery/catalog/internal/gateway"
	"github.com/peanutgallery/catalog/internal/metrics"
)

const (
	DefaultInterval   = 24 * time.Hour
	DefaultWindowDays = 1
)

// Populator is the gateway entry point the scheduler drives.
type Populator interface {
	PopulateMovies(ctx context.Context, start, end v1.Date) (*gateway.PopulateResult, error)
}

// Config controls the trigger cadence and the trailing window.
type Config struct {
	Interval time.Duration

	// WindowDays is how many days before today each run covers.
	// 1 populates yesterday and today.
	WindowDays int

	RunOnStart bool
}

// Scheduler holds no state beyond its cadence.
type Scheduler struct {
	populator Populator
	cfg       Config
	nowFn     func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// New creates a scheduler. Unset config fields fall back to daily runs over a
// one-day trailing window.
func New(populator Populator, cfg Config) *Scheduler {
	if populator == nil {
		panic("scheduler: populator must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WindowDays < 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	return &Scheduler{
		populator: populator,
		cfg:       cfg,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Serve fires a run on every tick until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticks, stop := s.newTicker(s.cfg.Interval)
	defer stop()

	slog.Info("[Scheduler] Starting population scheduler",
		"interval", s.cfg.Interval,
		"window_days", s.cfg.WindowDays,
		"run_on_start", s.cfg.RunOnStart,
	)

	if s.cfg.RunOnStart {
		s.runLogged(ctx)
	}

	for {
		select {
		case <-ticks:
			s.runLogged(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")
			return nil
		}
	}
}

// RunOnce populates [today-WindowDays, today].
func (s *Scheduler) RunOnce(ctx context.Context) (*gateway.PopulateResult, error) {
	today := v1.NewDate(s.nowFn())
	start := today.AddDays(-s.cfg.WindowDays)

	result, err := s.populator.PopulateMovies(ctx, start, today)
	switch {
	case err != nil:
		metrics.SchedulerRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("scheduled population %s..%s: %w", start, today, err)
	case len(result.FailedRanges) > 0:
		metrics.SchedulerRuns.WithLabelValues("partial").Inc()
	default:
		metrics.SchedulerRuns.WithLabelValues("ok").Inc()
	}
	return result, nil
}

func (s *Scheduler) runLogged(ctx context.Context) {
	result, err := s.RunOnce(ctx)
	if err != nil {
		slog.Error("[Scheduler] Scheduled population failed", "error", err)
		return
	}
	if len(result.FailedRanges) > 0 {
		slog.Warn("[Scheduler] Scheduled population partially published",
			"initiated", len(result.InitiatedIDs),
			"failed", len(result.FailedRanges))
		return
	}
	slog.Info("[Scheduler] Scheduled population published", "initiated", len(result.InitiatedIDs))
}

func (s *Scheduler) String() string {
	return "population-scheduler"
}
