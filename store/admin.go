// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/tally"
)

// ListForReview returns decided attempts in band, newest first. Attempts
// that were already overridden are left out.
func (s *Store) ListForReview(ctx context.Context, band models.Band, limit int) ([]models.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+attemptColumns+` FROM attempt
		WHERE band = $1 AND decided_at > 0
		  AND id NOT IN (SELECT attempt_id FROM override)
		ORDER BY decided_at DESC, id
		LIMIT $2
	`), string(band), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list review queue: %w", err)
	}
	defer rows.Close()

	items := []models.ReviewItem{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		items = append(items, models.ReviewItem{
			AttemptID:   a.ID,
			CandidateID: a.CandidateID,
			Country:     a.Country,
			Region:      a.Region,
			Status:      a.Status,
			Score:       a.Decision.Score,
			Band:        a.Decision.Band,
			Reasons:     a.Decision.Reasons,
			DecidedAt:   a.Decision.DecidedAt,
		})
	}
	return items, rows.Err()
}

// OverrideAttempt counts a vote for an attempt held in the high band. The
// attempt row itself stays rejected; the vote shares its id and an audit row
// records the operator. It returns the region counter as the override left
// it; calling it again returns the existing vote and a nil row.
func (s *Store) OverrideAttempt(ctx context.Context, attemptID, operator string, now time.Time) (*models.Vote, *tally.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	a, err := s.getAttempt(ctx, tx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != models.StatusRejected || a.Decision.Band != models.BandHigh {
		return nil, nil, apperrors.ErrNotOverridable
	}

	existing, err := s.getVote(ctx, tx, attemptID)
	if err == nil {
		return existing, nil, nil
	}
	if !errors.Is(err, apperrors.ErrVoteNotFound) {
		return nil, nil, err
	}

	v := models.Vote{
		ID:          a.ID,
		CandidateID: a.CandidateID,
		Fingerprint: a.Fingerprint,
		Country:     a.Country,
		Region:      a.Region,
		Channel:     a.Channel,
		Flagged:     true,
		Source:      models.SourceOverride,
		CommittedAt: now,
	}
	if err := s.insertVote(ctx, tx, v); err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO override (attempt_id, operator, created_at) VALUES ($1, $2, $3)
	`), attemptID, operator, toMillis(now))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record override: %w", err)
	}

	row, err := s.bumpTally(ctx, tx, keyOf(v), 1)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &v, &row, nil
}

// VoidVote marks a vote voided and takes it out of the persisted counters.
// The row is kept. It returns the region counter as the void left it;
// voiding an already voided vote returns it with a nil row.
func (s *Store) VoidVote(ctx context.Context, voteID, reason string, now time.Time) (*models.Vote, *tally.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	v, err := s.getVote(ctx, tx, voteID)
	if err != nil {
		return nil, nil, err
	}
	if v.Voided {
		return v, nil, nil
	}

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE vote SET voided = $1, voided_at = $2, void_reason = $3
		WHERE id = $4 AND voided = $5
	`), true, toMillis(now), reason, voteID, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to void vote: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, nil, fmt.Errorf("failed to void vote: %w", err)
	} else if n == 0 {
		return nil, nil, apperrors.ErrConflict
	}

	row, err := s.bumpTally(ctx, tx, keyOf(*v), -1)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	v.Voided = true
	v.VoidedAt = now
	v.VoidReason = reason
	return v, &row, nil
}
