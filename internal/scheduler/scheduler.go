package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

// Sweeper evaluates running punishment timers.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Flusher re-persists state whose last write failed.
type Flusher interface {
	Flush() error
}

// Scheduler drives the escalation sweep on a fixed cadence. A failed tick
// adds a pause before the next one, doubling up to maxBackoff.
type Scheduler struct {
	sweeper    Sweeper
	flusher    Flusher
	interval   time.Duration
	maxBackoff time.Duration
	backoff    time.Duration
	kill       *control.KillSwitch
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// New creates a scheduler. A non-positive interval falls back to
// policy.DefaultSweepInterval.
func New(sweeper Sweeper, flusher Flusher, interval, maxBackoff time.Duration, kill *control.KillSwitch, logger *zap.Logger, recorder *metrics.Recorder) *Scheduler {
	if interval <= 0 {
		interval = policy.DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sweeper:    sweeper,
		flusher:    flusher,
		interval:   interval,
		maxBackoff: maxBackoff,
		kill:       kill,
		logger:     logger,
		metrics:    recorder,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if !wait(ctx, s.interval+s.backoff) {
			return
		}
		if err := s.Tick(ctx); err != nil {
			s.logger.Warn("escalation tick failed", zap.Duration("next_backoff", s.nextBackoff()), zap.Error(err))
			s.bumpBackoff()
			continue
		}
		s.resetBackoff()
	}
}

// Tick sweeps the timers and then flushes unsaved state. The sweep is
// skipped while the kill switch is engaged; the flush is not.
func (s *Scheduler) Tick(ctx context.Context) error {
	var sweepErr, flushErr error
	if s.kill.Enabled() {
		s.logger.Debug("escalation sweep paused by kill switch")
	} else {
		began := time.Now()
		sweepErr = s.sweeper.Sweep(ctx)
		s.metrics.ObserveSweep("scheduler", time.Since(began), sweepErr)
	}
	if s.flusher != nil {
		if flushErr = s.flusher.Flush(); flushErr != nil {
			s.logger.Error("moderation state flush failed", zap.Error(flushErr))
		}
	}
	return errors.Join(sweepErr, flushErr)
}

func (s *Scheduler) nextBackoff() time.Duration {
	next := s.interval
	if s.backoff > 0 {
		next = 2 * s.backoff
	}
	if s.maxBackoff > 0 && next > s.maxBackoff {
		next = s.maxBackoff
	}
	return next
}

func (s *Scheduler) bumpBackoff() {
	s.backoff = s.nextBackoff()
	s.metrics.ObserveBackoff("scheduler", s.backoff)
}

func (s *Scheduler) resetBackoff() {
	if s.backoff == 0 {
		return
	}
	s.backoff = 0
	s.metrics.ObserveBackoff("scheduler", 0)
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
