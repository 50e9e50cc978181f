// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package intake

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/ratelimit"
)

// Sweeper expires abandoned attempts, purges old terminal ones and prunes
// idle rate limit windows.
type Sweeper struct {
	store      Repository
	limiter    *ratelimit.Limiter
	clock      clockwork.Clock
	interval   time.Duration
	attemptTTL time.Duration
	retention  time.Duration
	logger     *zap.Logger
}

func NewSweeper(store Repository, limiter *ratelimit.Limiter, clock clockwork.Clock, interval, attemptTTL, retention time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		limiter:    limiter,
		clock:      clock,
		interval:   interval,
		attemptTTL: attemptTTL,
		retention:  retention,
		logger:     logger,
	}
}

// SweepStats counts what one pass removed.
type SweepStats struct {
	Expired int64
	Purged  int64
	Pruned  int
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.clock.Now()

	n, err := s.store.ExpireStale(ctx, now, s.attemptTTL)
	if err != nil {
		return stats, err
	}
	stats.Expired = n

	if s.retention > 0 {
		n, err = s.store.PurgeTerminal(ctx, now.Add(-s.retention))
		if err != nil {
			return stats, err
		}
		stats.Purged = n
	}

	stats.Pruned = s.limiter.Prune()
	return stats, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			stats, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("sweep failed", zap.Error(err))
				continue
			}
			if stats.Expired > 0 || stats.Purged > 0 {
				s.logger.Info("sweep finished",
					zap.String("expired", humanize.Comma(stats.Expired)),
					zap.String("purged", humanize.Comma(stats.Purged)),
					zap.Int("pruned", stats.Pruned))
			}
		}
	}
}
