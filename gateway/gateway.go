// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package gateway owns the one-time code lifecycle of an attempt: issuing,
// re-issuing and checking codes. Only salted code hashes are ever stored.
package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/auth"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/notify"
)

// Outcome of a code check.
type Outcome string

const (
	OutcomeVerified  Outcome = "verified"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeExpired   Outcome = "expired"
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
)

// Store is the attempt persistence the gateway needs.
type Store interface {
	GetAttempt(ctx context.Context, id string) (*models.Attempt, error)
	SaveAttempt(ctx context.Context, a *models.Attempt, expectVersion int64) error
}

type Config struct {
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	AttemptTTL     time.Duration
	MaxResends     int
	MaxFailures    int
}

type Gateway struct {
	store   Store
	sender  notify.Sender
	codeKey []byte
	clock   clockwork.Clock
	cfg     Config
	logger  *zap.Logger
}

func New(store Store, sender notify.Sender, codeKey []byte, clock clockwork.Clock, cfg Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:   store,
		sender:  sender,
		codeKey: codeKey,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Lapsed reports whether the attempt outlived its overall TTL.
func (g *Gateway) Lapsed(a *models.Attempt, now time.Time) bool {
	return !now.Before(a.CreatedAt.Add(g.cfg.AttemptTTL))
}

// ExpiresAt is when the attempt lapses.
func (g *Gateway) ExpiresAt(a *models.Attempt) time.Time {
	return a.CreatedAt.Add(g.cfg.AttemptTTL)
}

// ResendWait is how long the attempt's delivered code must stand before it
// can be replaced. Undelivered codes need no wait.
func (g *Gateway) ResendWait(a *models.Attempt, now time.Time) time.Duration {
	if a.Status != models.StatusCodeSent {
		return 0
	}
	if wait := a.CodeSentAt.Add(g.cfg.ResendCooldown).Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// BeginChallenge issues the first code for a pending_code attempt and
// returns its expiry.
func (g *Gateway) BeginChallenge(ctx context.Context, attemptID string) (time.Time, error) {
	a, err := g.load(ctx, attemptID)
	if err != nil {
		return time.Time{}, err
	}
	if a.Status != models.StatusPendingCode {
		return time.Time{}, apperrors.ErrInvalidTransition
	}
	return g.issue(ctx, a)
}

// ResendChallenge replaces the current code. A delivered code can only be
// replaced once the cooldown has passed; an undelivered one immediately.
func (g *Gateway) ResendChallenge(ctx context.Context, attemptID string) (time.Time, error) {
	a, err := g.load(ctx, attemptID)
	if err != nil {
		return time.Time{}, err
	}
	if a.Status != models.StatusPendingCode && a.Status != models.StatusCodeSent {
		return time.Time{}, apperrors.ErrInvalidTransition
	}

	now := g.clock.Now()
	if wait := g.ResendWait(a, now); wait > 0 {
		return time.Time{}, apperrors.RateLimited("resend", wait)
	}

	if a.ResendCount >= g.cfg.MaxResends {
		if err := g.reject(ctx, a, models.ReasonTooManyCodes, now); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, apperrors.ErrTooManyResends
	}

	a.ResendCount++
	return g.issue(ctx, a)
}

// VerifyCode checks a submitted code. A code checked at or after its expiry
// is expired whatever its digits. Terminal attempts report their status
// and are left untouched. The returned attempt carries the stored version.
func (g *Gateway) VerifyCode(ctx context.Context, attemptID, code string) (Outcome, *models.Attempt, error) {
	a, err := g.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return "", nil, err
	}

	switch a.Status {
	case models.StatusCommitted:
		return OutcomeCommitted, a, nil
	case models.StatusRejected:
		return OutcomeRejected, a, nil
	case models.StatusExpired:
		return OutcomeExpired, a, nil
	}

	now := g.clock.Now()
	if g.Lapsed(a, now) || (a.CodeHash != "" && !now.Before(a.CodeExpiresAt)) {
		if err := g.expire(ctx, a, now); err != nil {
			return "", nil, err
		}
		return OutcomeExpired, a, nil
	}
	if a.CodeHash == "" {
		return "", nil, apperrors.ErrInvalidTransition
	}

	if !auth.CodeMatches(g.codeKey, a.ID, code, a.CodeHash) {
		if a.Status == models.StatusVerified {
			return OutcomeInvalid, a, nil
		}
		a.FailedCodes++
		if a.FailedCodes >= g.cfg.MaxFailures {
			if err := g.reject(ctx, a, models.ReasonTooManyTries, now); err != nil {
				return "", nil, err
			}
			return OutcomeRejected, a, nil
		}
		a.UpdatedAt = now
		if err := g.store.SaveAttempt(ctx, a, a.Version); err != nil {
			return "", nil, err
		}
		return OutcomeInvalid, a, nil
	}

	if a.Status == models.StatusVerified {
		return OutcomeVerified, a, nil
	}
	a.Status = models.StatusVerified
	a.FailedCodes = 0
	a.UpdatedAt = now
	if err := g.store.SaveAttempt(ctx, a, a.Version); err != nil {
		return "", nil, err
	}
	return OutcomeVerified, a, nil
}

// Reject ends a non-terminal attempt with a reason visible to the client.
func (g *Gateway) Reject(ctx context.Context, a *models.Attempt, reason string) error {
	return g.reject(ctx, a, reason, g.clock.Now())
}

// load fetches a non-terminal attempt, expiring it first if it lapsed.
func (g *Gateway) load(ctx context.Context, attemptID string) (*models.Attempt, error) {
	a, err := g.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status == models.StatusExpired {
		return nil, apperrors.ErrAttemptExpired
	}
	if a.Status.Terminal() {
		return nil, apperrors.ErrInvalidTransition
	}
	if now := g.clock.Now(); g.Lapsed(a, now) {
		if err := g.expire(ctx, a, now); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrAttemptExpired
	}
	return a, nil
}

// issue stores the hash of a fresh code before sending it, so a delivered
// code can always be checked. The attempt only becomes code_sent once the
// sender accepted the message.
func (g *Gateway) issue(ctx context.Context, a *models.Attempt) (time.Time, error) {
	code, err := auth.GenerateCode()
	if err != nil {
		return time.Time{}, err
	}

	now := g.clock.Now()
	a.CodeHash = auth.HashCode(g.codeKey, a.ID, code)
	a.CodeExpiresAt = now.Add(g.cfg.CodeTTL)
	a.FailedCodes = 0
	a.Status = models.StatusPendingCode
	a.UpdatedAt = now
	if err := g.store.SaveAttempt(ctx, a, a.Version); err != nil {
		return time.Time{}, err
	}

	msg := notify.Message{Channel: a.Channel, Address: a.Address, Code: code}
	if err := g.sender.Send(ctx, msg); err != nil {
		g.logger.Warn("code delivery failed",
			zap.String("attempt_id", a.ID),
			zap.String("channel", string(a.Channel)),
			zap.Error(err))
		return time.Time{}, err
	}

	a.Status = models.StatusCodeSent
	a.CodeSentAt = now
	if err := g.store.SaveAttempt(ctx, a, a.Version); err != nil {
		return time.Time{}, err
	}

	g.logger.Info("code issued",
		zap.String("attempt_id", a.ID),
		zap.String("channel", string(a.Channel)),
		zap.Int("resends", a.ResendCount),
		zap.Time("expires_at", a.CodeExpiresAt))
	return a.CodeExpiresAt, nil
}

func (g *Gateway) expire(ctx context.Context, a *models.Attempt, now time.Time) error {
	a.Status = models.StatusExpired
	a.UpdatedAt = now
	if err := g.store.SaveAttempt(ctx, a, a.Version); err != nil {
		return err
	}
	g.logger.Info("attempt expired", zap.String("attempt_id", a.ID))
	return nil
}

func (g *Gateway) reject(ctx context.Context, a *models.Attempt, reason string, now time.Time) error {
	a.Status = models.StatusRejected
	a.Decision.Outcome = reason
	a.Decision.DecidedAt = now
	a.UpdatedAt = now
	if err := g.store.SaveAttempt(ctx, a, a.Version); err != nil {
		return err
	}
	g.logger.Info("attempt rejected", zap.String("attempt_id", a.ID), zap.String("reason", reason))
	return nil
}
