// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package ratelimit bounds begin, resend and verify calls with sliding
// window counters.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Action is the kind of call being limited.
type Action string

const (
	ActionBegin  Action = "begin"
	ActionResend Action = "resend"
	ActionVerify Action = "verify"
)

// Budget allows Limit events per Window.
type Budget struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Budgets per action.
type Budgets map[Action]Budget

// DefaultBudgets: 5 begins per origin per hour, 5 resends and 10 verifies
// per attempt over the attempt lifetime.
func DefaultBudgets() Budgets {
	return Budgets{
		ActionBegin:  {Limit: 5, Window: time.Hour},
		ActionResend: {Limit: 5, Window: 30 * time.Minute},
		ActionVerify: {Limit: 10, Window: 30 * time.Minute},
	}
}

// Decision is the outcome of Allow.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	start time.Time
	count int
}

type window struct {
	buckets []bucket // ordered oldest first
	touched time.Time
}

type windowKey struct {
	key    string
	action Action
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	budgets    Budgets
	numBuckets int
	windows    map[windowKey]*window
	blocked    map[string]time.Time
}

// New creates a limiter whose windows are split into numBuckets buckets.
func New(clock clockwork.Clock, budgets Budgets, numBuckets int) *Limiter {
	if numBuckets < 1 {
		numBuckets = 6
	}
	return &Limiter{
		clock:      clock,
		budgets:    budgets,
		numBuckets: numBuckets,
		windows:    make(map[windowKey]*window),
		blocked:    make(map[string]time.Time),
	}
}

// Allow records one event for (key, action) if the budget permits it.
// Denied events are not recorded.
func (l *Limiter) Allow(key string, action Action) Decision {
	budget, ok := l.budgets[action]
	if !ok || budget.Limit <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	wk := windowKey{key: key, action: action}
	w := l.windows[wk]
	if w == nil {
		w = &window{}
		l.windows[wk] = w
	}
	w.touched = now
	w.evict(now, budget.Window)

	if w.total() >= budget.Limit {
		return Decision{RetryAfter: w.retryAfter(now, budget)}
	}

	width := bucketWidth(budget.Window, l.numBuckets)
	start := now.Truncate(width)
	if n := len(w.buckets); n > 0 && w.buckets[n-1].start.Equal(start) {
		w.buckets[n-1].count++
	} else {
		w.buckets = append(w.buckets, bucket{start: start, count: 1})
	}
	return Decision{Allowed: true}
}

// Block denies Blocked(key) until the given instant.
func (l *Limiter) Block(key string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.blocked[key]; !ok || until.After(cur) {
		l.blocked[key] = until
	}
}

// Blocked reports whether key is blocked and for how much longer.
func (l *Limiter) Blocked(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.blocked[key]
	if !ok {
		return false, 0
	}
	now := l.clock.Now()
	if !now.Before(until) {
		delete(l.blocked, key)
		return false, 0
	}
	return true, until.Sub(now)
}

// Reset forgets every event recorded for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for wk := range l.windows {
		if wk.key == key {
			delete(l.windows, wk)
		}
	}
}

// Prune drops windows and blocks that can no longer affect a decision and
// returns how many entries were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for wk, w := range l.windows {
		budget := l.budgets[wk.action]
		if now.Sub(w.touched) >= budget.Window {
			delete(l.windows, wk)
			removed++
		}
	}
	for key, until := range l.blocked {
		if !now.Before(until) {
			delete(l.blocked, key)
			removed++
		}
	}
	return removed
}

func (w *window) evict(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for i < len(w.buckets) && !w.buckets[i].start.After(cutoff) {
		i++
	}
	w.buckets = w.buckets[i:]
}

func (w *window) total() int {
	n := 0
	for _, b := range w.buckets {
		n += b.count
	}
	return n
}

// retryAfter is the time until enough old buckets leave the window for one
// more event to fit.
func (w *window) retryAfter(now time.Time, budget Budget) time.Duration {
	excess := w.total() - budget.Limit + 1
	for _, b := range w.buckets {
		excess -= b.count
		if excess <= 0 {
			wait := b.start.Add(budget.Window).Sub(now)
			if wait < time.Second {
				wait = time.Second
			}
			return wait
		}
	}
	return budget.Window
}

func bucketWidth(span time.Duration, n int) time.Duration {
	width := span / time.Duration(n)
	if width <= 0 {
		width = time.Second
	}
	return width
}
