package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/p2p-queue-engine/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QueueMaintainer is the part of QueueService the scheduler drives.
type QueueMaintainer interface {
	RunMatchingPass(ctx context.Context) (*domain.MatchingPassResult, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// SchedulerConfig sets the background loop intervals. A non-positive
// interval disables that loop.
type SchedulerConfig struct {
	MatchInterval   time.Duration
	CleanupInterval time.Duration
	MaxPendingAge   time.Duration
}

// Scheduler runs matching passes and cleanup on timers.
type Scheduler struct {
	queue  QueueMaintainer
	cfg    SchedulerConfig
	logger *zap.Logger
}

// NewScheduler creates a scheduler for the given queue.
func NewScheduler(queue QueueMaintainer, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{queue: queue, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting queue scheduler",
		zap.Duration("match_interval", s.cfg.MatchInterval),
		zap.Duration("cleanup_interval", s.cfg.CleanupInterval),
		zap.Duration("max_pending_age", s.cfg.MaxPendingAge),
	)

	g, gCtx := errgroup.WithContext(ctx)
	if s.cfg.MatchInterval > 0 {
		g.Go(func() error {
			s.every(gCtx, s.cfg.MatchInterval, s.match)
			return nil
		})
	}
	if s.cfg.CleanupInterval > 0 && s.cfg.MaxPendingAge > 0 {
		g.Go(func() error {
			s.every(gCtx, s.cfg.CleanupInterval, s.cleanup)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("queue scheduler stopped")
	return err
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) match(ctx context.Context) {
	_, err := s.queue.RunMatchingPass(ctx)
	var conflict *domain.ErrAlreadyMatched
	var transition *domain.ErrInvalidStateTransition
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPassInProgress):
		s.logger.Debug("matching pass skipped, another instance holds the lock")
	case errors.As(err, &conflict), errors.As(err, &transition):
		s.logger.Debug("every match proposal went stale before commit", zap.Error(err))
	case ctx.Err() != nil:
	default:
		s.logger.Error("scheduled matching pass failed", zap.Error(err))
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	if _, err := s.queue.Cleanup(ctx, s.cfg.MaxPendingAge); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled cleanup failed", zap.Error(err))
	}
}
