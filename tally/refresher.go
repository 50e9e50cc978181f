// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package tally

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader reads the persisted region counters.
type Loader interface {
	LoadTally(ctx context.Context) ([]Row, error)
}

// Refresher reconciles a Counter with the persisted counters so that
// several instances behind one load balancer converge within one interval.
type Refresher struct {
	counter  *Counter
	loader   Loader
	clock    clockwork.Clock
	interval time.Duration
	logger   *zap.Logger
	group    singleflight.Group
}

func NewRefresher(counter *Counter, loader Loader, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Refresher {
	return &Refresher{
		counter:  counter,
		loader:   loader,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Refresh reloads once. Concurrent callers share a single load.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("tally", func() (interface{}, error) {
		rows, err := r.loader.LoadTally(ctx)
		if err != nil {
			return nil, err
		}
		r.counter.Replace(rows)
		return nil, nil
	})
	return err
}

// Run refreshes every interval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("tally refresh failed", zap.Error(err))
			}
		}
	}
}
