// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/db"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/tally"
	"github.com/lakayvote/intake/testutil"
)

func setup(t *testing.T) *Store {
	t.Helper()
	return New(testutil.SetupTestDB(t), db.TypeSQLite)
}

// verified stores a new attempt and moves it to verified.
func verified(t *testing.T, s *Store, id, candidate, fp string, now time.Time) *models.Attempt {
	t.Helper()
	ctx := context.Background()
	a := testutil.NewAttempt(id, candidate, fp, now)
	require.NoError(t, s.CreateAttempt(ctx, a))
	a.Status = models.StatusVerified
	require.NoError(t, s.SaveAttempt(ctx, a, a.Version))
	return a
}

func commit(t *testing.T, s *Store, a *models.Attempt, now time.Time) error {
	t.Helper()
	expect := a.Version
	a.Status = models.StatusCommitted
	a.CommittedAt = now
	a.UpdatedAt = now
	a.Decision = models.Decision{Score: 5, Band: models.BandLow, Outcome: "committed", DecidedAt: now}
	_, err := s.CommitVote(context.Background(), a, expect, voteFor(a, now))
	return err
}

func voteFor(a *models.Attempt, now time.Time) models.Vote {
	return models.Vote{
		ID:          a.ID,
		CandidateID: a.CandidateID,
		Fingerprint: a.Fingerprint,
		Country:     a.Country,
		Region:      a.Region,
		Channel:     a.Channel,
		Source:      models.SourcePipeline,
		CommittedAt: now,
	}
}

func TestCreateAndGetAttempt(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	a := testutil.NewAttempt("att-1", "cand-1", "fp-1", now)
	a.OriginKnown = true
	a.OriginProxy = true
	a.OriginCountry = "US"
	require.NoError(t, s.CreateAttempt(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	got, err := s.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, a.FullName, got.FullName)
	assert.Equal(t, a.DateOfBirth, got.DateOfBirth)
	assert.Equal(t, models.StatusCodeSent, got.Status)
	assert.True(t, got.OriginProxy)
	assert.Equal(t, "US", got.OriginCountry)
	assert.True(t, got.CodeExpiresAt.Equal(now.Add(5*time.Minute)))
	assert.True(t, got.CommittedAt.IsZero())
	assert.Nil(t, got.Decision.Reasons)

	_, err = s.GetAttempt(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrAttemptNotFound)
}

func TestSaveAttempt_CompareAndSwap(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	a := testutil.NewAttempt("att-1", "cand-1", "fp-1", now)
	require.NoError(t, s.CreateAttempt(ctx, a))

	a.FailedCodes = 1
	require.NoError(t, s.SaveAttempt(ctx, a, 1))
	assert.Equal(t, int64(2), a.Version)

	// A writer holding the old version loses
	stale := *a
	stale.FailedCodes = 4
	err := s.SaveAttempt(ctx, &stale, 1)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := s.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedCodes)
	assert.Equal(t, int64(2), got.Version)
}

func TestSaveAttempt_TerminalIsFrozen(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	a := testutil.NewAttempt("att-1", "cand-1", "fp-1", now)
	require.NoError(t, s.CreateAttempt(ctx, a))

	a.Status = models.StatusRejected
	a.Decision = models.Decision{Score: 70, Band: models.BandHigh, Reasons: []string{"anonymizing_proxy", "geo_mismatch:HT/US"}, Outcome: models.ReasonPendingReview, DecidedAt: now}
	require.NoError(t, s.RecordDecision(ctx, a, a.Version))

	a.Status = models.StatusVerified
	err := s.SaveAttempt(ctx, a, a.Version)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := s.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Equal(t, []string{"anonymizing_proxy", "geo_mismatch:HT/US"}, got.Decision.Reasons)
	assert.Equal(t, models.BandHigh, got.Decision.Band)
}

func TestRecordDecision_RequiresRejection(t *testing.T) {
	s := setup(t)
	a := testutil.NewAttempt("att-1", "cand-1", "fp-1", testutil.Epoch)
	require.NoError(t, s.CreateAttempt(context.Background(), a))

	err := s.RecordDecision(context.Background(), a, a.Version)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestCommitVote(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	a := verified(t, s, "att-1", "cand-1", "fp-1", now)
	require.NoError(t, commit(t, s, a, now))

	got, err := s.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, got.Status)
	assert.Equal(t, 5, got.Decision.Score)
	assert.False(t, got.CommittedAt.IsZero())

	v, err := s.GetVote(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, "cand-1", v.CandidateID)
	assert.Equal(t, models.SourcePipeline, v.Source)

	has, err := s.HasVote(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, has)

	total, err := s.CandidateTotal(ctx, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	rows, err := s.LoadTally(ctx)
	require.NoError(t, err)
	assert.Equal(t, []tally.Row{{Key: tally.Key{CandidateID: "cand-1", Country: "HT", Region: "Ouest"}, Votes: 1, Seq: 1}}, rows)
}

func TestCommitVote_ReturnsSequencedRow(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch
	key := tally.Key{CandidateID: "cand-1", Country: "HT", Region: "Ouest"}

	for i, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		a := verified(t, s, "att-"+fp, "cand-1", fp, now)
		expect := a.Version
		a.Status = models.StatusCommitted
		a.CommittedAt = now
		a.UpdatedAt = now
		row, err := s.CommitVote(ctx, a, expect, voteFor(a, now))
		require.NoError(t, err)
		assert.Equal(t, tally.Row{Key: key, Votes: int64(i + 1), Seq: int64(i + 1)}, row)
	}

	// A void moves the count down and the sequence up
	_, row, err := s.VoidVote(ctx, "att-fp-2", "fraud", now)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, tally.Row{Key: key, Votes: 2, Seq: 4}, *row)

	rows, err := s.LoadTally(ctx)
	require.NoError(t, err)
	assert.Equal(t, []tally.Row{*row}, rows)
}

func TestCommitVote_Idempotent(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	a := verified(t, s, "att-1", "cand-1", "fp-1", now)
	retry := *a
	require.NoError(t, commit(t, s, a, now))

	// Replaying the same commit with the pre-commit version changes nothing
	err := commit(t, s, &retry, now)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	total, err := s.CandidateTotal(ctx, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestCommitVote_DuplicateFingerprintRollsBack(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	first := verified(t, s, "att-1", "cand-1", "fp-1", now)
	second := verified(t, s, "att-2", "cand-2", "fp-1", now)

	require.NoError(t, commit(t, s, first, now))
	err := commit(t, s, second, now)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateVote)

	// The attempt update was rolled back with the vote
	got, err := s.GetAttempt(ctx, "att-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, got.Status)

	total, err := s.CandidateTotal(ctx, "cand-2")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCommitVote_RequiresCommittedStatus(t *testing.T) {
	s := setup(t)
	a := verified(t, s, "att-1", "cand-1", "fp-1", testutil.Epoch)
	_, err := s.CommitVote(context.Background(), a, a.Version, voteFor(a, testutil.Epoch))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestCountAttempts(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	for i, offset := range []time.Duration{-20 * time.Minute, -9 * time.Minute, -time.Minute, 0} {
		a := testutil.NewAttempt(string(rune('a'+i)), "cand-1", "fp-shared", now.Add(offset))
		a.OriginHash = "origin-shared"
		require.NoError(t, s.CreateAttempt(ctx, a))
	}

	n, err := s.CountOriginAttempts(ctx, "origin-shared", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountIdentityAttempts(ctx, "fp-shared", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = s.CountOriginAttempts(ctx, "other", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireStaleAndPurge(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	now := testutil.Epoch

	old := testutil.NewAttempt("old", "cand-1", "fp-1", now.Add(-31*time.Minute))
	fresh := testutil.NewAttempt("fresh", "cand-1", "fp-2", now.Add(-time.Minute))
	require.NoError(t, s.CreateAttempt(ctx, old))
	require.NoError(t, s.CreateAttempt(ctx, fresh))

	n, err := s.ExpireStale(ctx, now, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetAttempt(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Equal(t, int64(2), got.Version)

	got, err = s.GetAttempt(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCodeSent, got.Status)

	// Purge only removes terminal attempts older than the cutoff
	n, err = s.PurgeTerminal(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PurgeTerminal(ctx, now.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetAttempt(ctx, "old")
	assert.ErrorIs(t, err, apperrors.ErrAttemptNotFound)
	_, err = s.GetAttempt(ctx, "fresh")
	assert.NoError(t, err)
}
