// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/auth"
	"github.com/lakayvote/intake/fraud"
	"github.com/lakayvote/intake/gateway"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/ratelimit"
	"github.com/lakayvote/intake/reputation"
	"github.com/lakayvote/intake/tally"
)

// maxDispatch bounds how often a call reloads the attempt after losing a
// compare-and-swap to a concurrent call.
const maxDispatch = 3

// Decision outcomes of attempts that committed.
const (
	outcomeCommitted = "committed"
	outcomeFlagged   = "flagged"
)

// Repository is the persistence the machine drives. *store.Store satisfies it.
type Repository interface {
	CreateAttempt(ctx context.Context, a *models.Attempt) error
	GetAttempt(ctx context.Context, id string) (*models.Attempt, error)
	SaveAttempt(ctx context.Context, a *models.Attempt, expectVersion int64) error
	RecordDecision(ctx context.Context, a *models.Attempt, expectVersion int64) error
	CommitVote(ctx context.Context, a *models.Attempt, expectVersion int64, v models.Vote) (tally.Row, error)
	HasVote(ctx context.Context, fingerprint string) (bool, error)
	CountOriginAttempts(ctx context.Context, originHash string, since time.Time) (int, error)
	CountIdentityAttempts(ctx context.Context, fingerprint string, since time.Time) (int, error)
	ListForReview(ctx context.Context, band models.Band, limit int) ([]models.ReviewItem, error)
	OverrideAttempt(ctx context.Context, attemptID, operator string, now time.Time) (*models.Vote, *tally.Row, error)
	VoidVote(ctx context.Context, voteID, reason string, now time.Time) (*models.Vote, *tally.Row, error)
	ExpireStale(ctx context.Context, now time.Time, attemptTTL time.Duration) (int64, error)
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	MinAge     int
	Candidates []string
	// BlockDuration is how long a critical-band origin is refused.
	BlockDuration time.Duration
	// VelocityWindow is how far back attempts count toward velocity signals.
	VelocityWindow time.Duration
	Policy         fraud.Policy
}

// Machine drives attempts from submission to a committed or rejected vote.
type Machine struct {
	store      Repository
	gateway    *gateway.Gateway
	limiter    *ratelimit.Limiter
	counter    *tally.Counter
	lookup     reputation.Lookup
	keys       auth.Keys
	clock      clockwork.Clock
	cfg        Config
	candidates map[string]bool
	logger     *zap.Logger
}

func NewMachine(
	store Repository,
	gw *gateway.Gateway,
	limiter *ratelimit.Limiter,
	counter *tally.Counter,
	lookup reputation.Lookup,
	keys auth.Keys,
	clock clockwork.Clock,
	cfg Config,
	logger *zap.Logger,
) *Machine {
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = 10 * time.Minute
	}
	candidates := make(map[string]bool, len(cfg.Candidates))
	for _, id := range cfg.Candidates {
		candidates[id] = true
	}
	return &Machine{
		store:      store,
		gateway:    gw,
		limiter:    limiter,
		counter:    counter,
		lookup:     lookup,
		keys:       keys,
		clock:      clock,
		cfg:        cfg,
		candidates: candidates,
		logger:     logger,
	}
}

// BeginInput is a submission plus the address it arrived from.
type BeginInput struct {
	Request  models.BeginRequest
	ClientIP string
}

type BeginResult struct {
	AttemptID  string
	Status     models.Status
	CodeExpiry time.Time
}

// VerifyResult status values.
const (
	VerifyCommitted = "committed"
	VerifyRejected  = "rejected"
	VerifyInvalid   = "invalid"
	VerifyExpired   = "expired"
)

// VerifyResult is what the client learns from a verify call. Reason is
// only set for rejections and never carries scoring detail.
type VerifyResult struct {
	Status string
	Reason string
}

// Err maps the result onto the error taxonomy; nil for committed.
func (r VerifyResult) Err() error {
	switch r.Status {
	case VerifyInvalid:
		return apperrors.ErrCodeInvalid
	case VerifyExpired:
		return apperrors.ErrCodeExpired
	case VerifyRejected:
		switch r.Reason {
		case models.ReasonDuplicateVote:
			return apperrors.ErrDuplicateVote
		case models.ReasonTooManyTries:
			return apperrors.ErrTooManyFailures
		case models.ReasonTooManyCodes:
			return apperrors.ErrTooManyResends
		default:
			return apperrors.ErrFraudRejected
		}
	}
	return nil
}

// Begin validates a submission, opens an attempt and sends its first code.
// When delivery fails the attempt survives in pending_code and the result
// still carries its id so the client can ask for a resend.
func (m *Machine) Begin(ctx context.Context, in BeginInput) (BeginResult, error) {
	now := m.clock.Now()
	originHash := auth.HashIP(in.ClientIP, m.keys.IP)

	if blocked, remaining := m.limiter.Blocked(originHash); blocked {
		return BeginResult{}, fmt.Errorf("%w: %w", apperrors.ErrOriginBlocked, apperrors.RateLimited("begin", remaining))
	}

	d, err := m.validate(in.Request, now)
	if err != nil {
		return BeginResult{}, err
	}

	if dec := m.limiter.Allow(originHash, ratelimit.ActionBegin); !dec.Allowed {
		return BeginResult{}, apperrors.RateLimited("begin", dec.RetryAfter)
	}

	rep, err := m.lookup.Lookup(ctx, in.ClientIP)
	if err != nil {
		m.logger.Warn("reputation lookup failed", zap.Error(err))
		rep = reputation.Report{}
	}

	a := &models.Attempt{
		ID:            uuid.NewString(),
		CandidateID:   d.CandidateID,
		FullName:      d.Name,
		DateOfBirth:   d.DOB,
		Channel:       d.Channel,
		Address:       d.Address,
		Country:       d.Country,
		Region:        d.Region,
		Fingerprint:   auth.Fingerprint(m.keys.Fingerprint, d.Name, d.DOB, string(d.Channel), d.Address),
		OriginHash:    originHash,
		OriginKnown:   rep.Known,
		OriginProxy:   rep.IsProxy,
		OriginCountry: rep.GeoCountry,
		Status:        models.StatusPendingCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.CreateAttempt(ctx, a); err != nil {
		return BeginResult{}, fmt.Errorf("failed to create attempt: %w", err)
	}

	m.logger.Info("attempt started",
		zap.String("attempt_id", a.ID),
		zap.String("candidate_id", a.CandidateID),
		zap.String("channel", string(a.Channel)),
		zap.Bool("origin_known", rep.Known))

	res := BeginResult{AttemptID: a.ID, Status: models.StatusPendingCode}
	expiry, err := m.gateway.BeginChallenge(ctx, a.ID)
	if err != nil {
		return res, err
	}
	res.Status = models.StatusCodeSent
	res.CodeExpiry = expiry
	return res, nil
}

// Resend replaces the attempt's code. The cooldown is checked before the
// per-attempt resend budget so a premature click costs nothing; running out
// of budget rejects the attempt.
func (m *Machine) Resend(ctx context.Context, attemptID, clientIP string) (time.Time, error) {
	if blocked, remaining := m.limiter.Blocked(auth.HashIP(clientIP, m.keys.IP)); blocked {
		return time.Time{}, fmt.Errorf("%w: %w", apperrors.ErrOriginBlocked, apperrors.RateLimited("resend", remaining))
	}

	a, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return time.Time{}, err
	}
	if wait := m.gateway.ResendWait(a, m.clock.Now()); wait > 0 {
		return time.Time{}, apperrors.RateLimited("resend", wait)
	}
	if !a.Status.Terminal() && !m.limiter.Allow(attemptID, ratelimit.ActionResend).Allowed {
		if err := m.gateway.Reject(ctx, a, models.ReasonTooManyCodes); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, apperrors.ErrTooManyResends
	}

	var expiry time.Time
	for i := 0; i < maxDispatch; i++ {
		expiry, err = m.gateway.ResendChallenge(ctx, attemptID)
		if !errors.Is(err, apperrors.ErrConflict) {
			return expiry, err
		}
	}
	return time.Time{}, err
}

// Verify checks a code and, on the first match, scores and commits the
// attempt. Exceeding the per-attempt verify budget rejects it. Repeating a
// call for a decided attempt reports the recorded outcome without side
// effects.
func (m *Machine) Verify(ctx context.Context, attemptID, code string) (VerifyResult, error) {
	if !auth.ValidCodeFormat(code) {
		return VerifyResult{}, apperrors.Invalid("code", fmt.Sprintf("must be %d digits", auth.CodeDigits))
	}

	a, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return VerifyResult{}, err
	}
	if a.Status.Terminal() {
		return terminalResult(a), nil
	}
	if !m.limiter.Allow(attemptID, ratelimit.ActionVerify).Allowed {
		if err := m.gateway.Reject(ctx, a, models.ReasonTooManyTries); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Status: VerifyRejected, Reason: models.ReasonTooManyTries}, nil
	}

	for i := 0; i < maxDispatch; i++ {
		outcome, a, err := m.gateway.VerifyCode(ctx, attemptID, code)
		if errors.Is(err, apperrors.ErrConflict) {
			continue
		}
		if err != nil {
			return VerifyResult{}, err
		}

		switch outcome {
		case gateway.OutcomeVerified:
			res, err := m.commit(ctx, a)
			if errors.Is(err, apperrors.ErrConflict) {
				continue
			}
			return res, err
		case gateway.OutcomeInvalid:
			return VerifyResult{Status: VerifyInvalid}, nil
		default:
			return terminalResult(a), nil
		}
	}
	return VerifyResult{}, apperrors.ErrConflict
}

func terminalResult(a *models.Attempt) VerifyResult {
	switch a.Status {
	case models.StatusCommitted:
		return VerifyResult{Status: VerifyCommitted}
	case models.StatusExpired:
		return VerifyResult{Status: VerifyExpired}
	default:
		return VerifyResult{Status: VerifyRejected, Reason: a.Decision.Outcome}
	}
}

// commit scores a verified attempt once and either commits its vote or
// records the rejection.
func (m *Machine) commit(ctx context.Context, a *models.Attempt) (VerifyResult, error) {
	now := m.clock.Now()
	obs, err := m.observe(ctx, a, now)
	if err != nil {
		return VerifyResult{}, err
	}
	res := fraud.Score(m.cfg.Policy, fraud.Collect(obs))
	if !res.Allows() {
		return m.hold(ctx, a, res, now)
	}

	expect := a.Version
	outcome := outcomeCommitted
	if res.Flagged() {
		outcome = outcomeFlagged
	}
	a.Status = models.StatusCommitted
	a.Decision = models.Decision{Score: res.Score, Band: res.Band, Reasons: res.Reasons, Outcome: outcome, DecidedAt: now}
	a.CommittedAt = now
	a.UpdatedAt = now

	vote := models.Vote{
		ID:          a.ID,
		CandidateID: a.CandidateID,
		Fingerprint: a.Fingerprint,
		Country:     a.Country,
		Region:      a.Region,
		Channel:     a.Channel,
		Flagged:     res.Flagged(),
		Source:      models.SourcePipeline,
		CommittedAt: now,
	}

	row, err := m.store.CommitVote(ctx, a, expect, vote)
	if errors.Is(err, apperrors.ErrDuplicateVote) {
		// Another attempt with this fingerprint committed after we looked.
		a.Status = models.StatusVerified
		a.Decision = models.Decision{}
		a.CommittedAt = time.Time{}
		obs.HasCommittedVote = true
		return m.hold(ctx, a, fraud.Score(m.cfg.Policy, fraud.Collect(obs)), now)
	}
	if err != nil {
		return VerifyResult{}, err
	}

	totals := m.counter.Apply(row)
	m.logger.Info("vote committed",
		zap.String("attempt_id", a.ID),
		zap.String("candidate_id", a.CandidateID),
		zap.Int("score", res.Score),
		zap.Bool("flagged", vote.Flagged),
		zap.Int64("candidate_total", totals.Candidate))
	return VerifyResult{Status: VerifyCommitted}, nil
}

// hold records a rejection. Critical scores block the origin unless the
// policy spares duplicate identities.
func (m *Machine) hold(ctx context.Context, a *models.Attempt, res fraud.Result, now time.Time) (VerifyResult, error) {
	reason := models.ReasonPendingReview
	if res.Duplicate {
		reason = models.ReasonDuplicateVote
	}
	a.Status = models.StatusRejected
	a.Decision = models.Decision{Score: res.Score, Band: res.Band, Reasons: res.Reasons, Outcome: reason, DecidedAt: now}
	a.UpdatedAt = now
	if err := m.store.RecordDecision(ctx, a, a.Version); err != nil {
		return VerifyResult{}, err
	}

	if res.BlockOrigin {
		m.limiter.Block(a.OriginHash, now.Add(m.cfg.BlockDuration))
		m.logger.Warn("origin blocked",
			zap.String("attempt_id", a.ID),
			zap.Duration("duration", m.cfg.BlockDuration))
	}

	m.logger.Info("attempt rejected",
		zap.String("attempt_id", a.ID),
		zap.String("reason", reason),
		zap.Int("score", res.Score),
		zap.String("band", string(res.Band)),
		zap.Strings("signals", res.Reasons))
	return VerifyResult{Status: VerifyRejected, Reason: reason}, nil
}

func (m *Machine) observe(ctx context.Context, a *models.Attempt, now time.Time) (fraud.Observation, error) {
	since := now.Add(-m.cfg.VelocityWindow)

	voted, err := m.store.HasVote(ctx, a.Fingerprint)
	if err != nil {
		return fraud.Observation{}, err
	}
	origin, err := m.store.CountOriginAttempts(ctx, a.OriginHash, since)
	if err != nil {
		return fraud.Observation{}, err
	}
	identity, err := m.store.CountIdentityAttempts(ctx, a.Fingerprint, since)
	if err != nil {
		return fraud.Observation{}, err
	}

	return fraud.Observation{
		HasCommittedVote: voted,
		OriginAttempts:   origin,
		IdentityAttempts: identity,
		ReputationKnown:  a.OriginKnown,
		IsProxy:          a.OriginProxy,
		ClaimedCountry:   a.Country,
		GeoCountry:       a.OriginCountry,
		ResendCount:      a.ResendCount,
		HourUTC:          now.UTC().Hour(),
	}, nil
}

// Status reports the server-side state of an attempt, expiring it first
// if its lifetime ran out.
func (m *Machine) Status(ctx context.Context, attemptID string) (models.AttemptStatusResponse, error) {
	a, err := m.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return models.AttemptStatusResponse{}, err
	}

	now := m.clock.Now()
	if !a.Status.Terminal() && m.gateway.Lapsed(a, now) {
		expect := a.Version
		a.Status = models.StatusExpired
		a.UpdatedAt = now
		err := m.store.SaveAttempt(ctx, a, expect)
		if errors.Is(err, apperrors.ErrConflict) {
			a, err = m.store.GetAttempt(ctx, attemptID)
		}
		if err != nil {
			return models.AttemptStatusResponse{}, err
		}
	}

	resp := models.AttemptStatusResponse{
		AttemptID: a.ID,
		Status:    a.Status,
		Channel:   a.Channel,
		ExpiresAt: m.gateway.ExpiresAt(a),
	}
	if a.Status == models.StatusCodeSent {
		resp.CodeExpiry = a.CodeExpiresAt
	}
	return resp, nil
}

// ReviewQueue lists decided attempts of one band that no operator has
// acted on yet.
func (m *Machine) ReviewQueue(ctx context.Context, band models.Band, limit int) ([]models.ReviewItem, error) {
	switch band {
	case models.BandMedium, models.BandHigh, models.BandCritical:
	default:
		return nil, apperrors.Invalid("band", "must be medium, high or critical")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return m.store.ListForReview(ctx, band, limit)
}

// Override commits the vote of a high-band rejection on an operator's
// authority. Repeating it returns the same vote.
func (m *Machine) Override(ctx context.Context, attemptID, operator string) (*models.Vote, error) {
	v, row, err := m.store.OverrideAttempt(ctx, attemptID, operator, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if row != nil {
		m.counter.Apply(*row)
		m.logger.Info("attempt overridden",
			zap.String("attempt_id", attemptID),
			zap.String("operator", operator))
	}
	return v, nil
}

// Void withdraws a vote from the counters. The vote row and its
// fingerprint reservation stay.
func (m *Machine) Void(ctx context.Context, voteID, reason, operator string) (*models.Vote, error) {
	if reason == "" {
		return nil, apperrors.Invalid("reason", "is required")
	}
	v, row, err := m.store.VoidVote(ctx, voteID, reason, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if row != nil {
		m.counter.Apply(*row)
		m.logger.Info("vote voided",
			zap.String("vote_id", voteID),
			zap.String("operator", operator),
			zap.String("reason", reason))
	}
	return v, nil
}
