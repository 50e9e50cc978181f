// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package store persists attempts, votes and counters.
//
// Every attempt mutation is a compare-and-swap on the attempt's version
// column, and attempts in a terminal status are never updated. Committing a
// vote, overriding a held attempt and voiding a vote each run in a single
// transaction together with the persisted counter updates.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/db"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/tally"
)

// Rollup marks the candidate and candidate×country rows in the tally table.
const Rollup = "*"

const dobLayout = "2006-01-02"

type Store struct {
	db     *sql.DB
	dbType string
}

func New(conn *sql.DB, dbType string) *Store {
	return &Store{db: conn, dbType: dbType}
}

func (s *Store) q(query string) string {
	return db.Rebind(s.dbType, query)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const attemptColumns = `
	id, candidate_id, full_name, birth_date, channel, address, country, region,
	fingerprint, origin_hash, origin_known, origin_proxy, origin_country,
	code_hash, code_expires_at, code_sent_at, resend_count, failed_codes,
	status, score, band, reasons, outcome, decided_at,
	version, created_at, updated_at, committed_at`

// CreateAttempt inserts a new attempt at version 1.
func (s *Store) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	a.Version = 1
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO attempt (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`),
		a.ID, a.CandidateID, a.FullName, a.DateOfBirth.Format(dobLayout), string(a.Channel),
		a.Address, a.Country, a.Region, a.Fingerprint, a.OriginHash,
		a.OriginKnown, a.OriginProxy, a.OriginCountry,
		a.CodeHash, toMillis(a.CodeExpiresAt), toMillis(a.CodeSentAt), a.ResendCount, a.FailedCodes,
		string(a.Status), a.Decision.Score, string(a.Decision.Band), joinReasons(a.Decision.Reasons),
		a.Decision.Outcome, toMillis(a.Decision.DecidedAt),
		a.Version, toMillis(a.CreatedAt), toMillis(a.UpdatedAt), toMillis(a.CommittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// GetAttempt returns apperrors.ErrAttemptNotFound for unknown ids.
func (s *Store) GetAttempt(ctx context.Context, id string) (*models.Attempt, error) {
	return s.getAttempt(ctx, s.db, id)
}

func (s *Store) getAttempt(ctx context.Context, q queryer, id string) (*models.Attempt, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+attemptColumns+` FROM attempt WHERE id = $1`), id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	return a, nil
}

// SaveAttempt writes every mutable field of a if the stored version still
// equals expectVersion and the stored status is not terminal. On success
// a.Version is advanced.
func (s *Store) SaveAttempt(ctx context.Context, a *models.Attempt, expectVersion int64) error {
	if err := s.updateAttempt(ctx, s.db, a, expectVersion); err != nil {
		return err
	}
	a.Version = expectVersion + 1
	return nil
}

// RecordDecision stores a rejection verdict. The decision is written once;
// later saves cannot touch a rejected attempt.
func (s *Store) RecordDecision(ctx context.Context, a *models.Attempt, expectVersion int64) error {
	if a.Status != models.StatusRejected || !a.Decision.Decided() {
		return apperrors.ErrInvalidTransition
	}
	return s.SaveAttempt(ctx, a, expectVersion)
}

func (s *Store) updateAttempt(ctx context.Context, q queryer, a *models.Attempt, expectVersion int64) error {
	res, err := q.ExecContext(ctx, s.q(`
		UPDATE attempt SET
			origin_known = $1, origin_proxy = $2, origin_country = $3,
			code_hash = $4, code_expires_at = $5, code_sent_at = $6,
			resend_count = $7, failed_codes = $8, status = $9,
			score = $10, band = $11, reasons = $12, outcome = $13, decided_at = $14,
			updated_at = $15, committed_at = $16, version = $17
		WHERE id = $18 AND version = $19
		  AND status IN ('pending_code', 'code_sent', 'verified')
	`),
		a.OriginKnown, a.OriginProxy, a.OriginCountry,
		a.CodeHash, toMillis(a.CodeExpiresAt), toMillis(a.CodeSentAt),
		a.ResendCount, a.FailedCodes, string(a.Status),
		a.Decision.Score, string(a.Decision.Band), joinReasons(a.Decision.Reasons),
		a.Decision.Outcome, toMillis(a.Decision.DecidedAt),
		toMillis(a.UpdatedAt), toMillis(a.CommittedAt), expectVersion+1,
		a.ID, expectVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if n == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

// CommitVote moves a verified attempt to committed, inserts its vote and
// increments the persisted counters, all in one transaction. The vote id is
// the attempt id, so a retried commit can never insert a second vote.
// It returns the region counter as the commit left it.
// Returns apperrors.ErrDuplicateVote when the fingerprint already voted and
// apperrors.ErrConflict when the attempt moved underneath the caller.
func (s *Store) CommitVote(ctx context.Context, a *models.Attempt, expectVersion int64, v models.Vote) (tally.Row, error) {
	if a.Status != models.StatusCommitted {
		return tally.Row{}, apperrors.ErrInvalidTransition
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tally.Row{}, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE attempt SET
			status = 'committed', score = $1, band = $2, reasons = $3, outcome = $4,
			decided_at = $5, updated_at = $6, committed_at = $7, version = $8
		WHERE id = $9 AND version = $10 AND status = 'verified'
	`),
		a.Decision.Score, string(a.Decision.Band), joinReasons(a.Decision.Reasons), a.Decision.Outcome,
		toMillis(a.Decision.DecidedAt), toMillis(a.UpdatedAt), toMillis(a.CommittedAt), expectVersion+1,
		a.ID, expectVersion,
	)
	if err != nil {
		return tally.Row{}, fmt.Errorf("failed to commit attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return tally.Row{}, fmt.Errorf("failed to commit attempt: %w", err)
	} else if n == 0 {
		return tally.Row{}, apperrors.ErrConflict
	}

	if err := s.insertVote(ctx, tx, v); err != nil {
		return tally.Row{}, err
	}
	row, err := s.bumpTally(ctx, tx, keyOf(v), 1)
	if err != nil {
		return tally.Row{}, err
	}

	if err := tx.Commit(); err != nil {
		return tally.Row{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	a.Version = expectVersion + 1
	return row, nil
}

func (s *Store) insertVote(ctx context.Context, tx *sql.Tx, v models.Vote) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO vote (id, candidate_id, fingerprint, country, region, channel, flagged, source, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`), v.ID, v.CandidateID, v.Fingerprint, v.Country, v.Region, string(v.Channel), v.Flagged, v.Source, toMillis(v.CommittedAt))
	if db.IsUniqueViolation(err) {
		return apperrors.ErrDuplicateVote
	}
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

// bumpTally adds delta to the region row and both rollups and returns the
// region row as written. Rows are always touched in the same order so
// concurrent transactions cannot deadlock.
func (s *Store) bumpTally(ctx context.Context, tx *sql.Tx, k tally.Key, delta int64) (tally.Row, error) {
	keys := []tally.Key{
		{CandidateID: k.CandidateID, Country: Rollup, Region: Rollup},
		{CandidateID: k.CandidateID, Country: k.Country, Region: Rollup},
		k,
	}
	row := tally.Row{Key: k}
	for _, key := range keys {
		err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO tally (candidate_id, country, region, votes, seq)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (candidate_id, country, region)
			DO UPDATE SET votes = tally.votes + excluded.votes, seq = tally.seq + 1
			RETURNING votes, seq
		`), key.CandidateID, key.Country, key.Region, delta).Scan(&row.Votes, &row.Seq)
		if err != nil {
			return tally.Row{}, fmt.Errorf("failed to update tally: %w", err)
		}
	}
	return row, nil
}

// HasVote reports whether fingerprint already produced a vote. Voided votes
// still count: a fingerprint is never reusable.
func (s *Store) HasVote(ctx context.Context, fingerprint string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM vote WHERE fingerprint = $1`), fingerprint).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check vote: %w", err)
	}
	return n > 0, nil
}

// CountOriginAttempts counts attempts from originHash created at or after since.
func (s *Store) CountOriginAttempts(ctx context.Context, originHash string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM attempt WHERE origin_hash = $1 AND created_at >= $2
	`), originHash, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count origin attempts: %w", err)
	}
	return n, nil
}

// CountIdentityAttempts counts attempts for fingerprint created at or after since.
func (s *Store) CountIdentityAttempts(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM attempt WHERE fingerprint = $1 AND created_at >= $2
	`), fingerprint, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count identity attempts: %w", err)
	}
	return n, nil
}

// ExpireStale moves every non-terminal attempt created at or before
// now-attemptTTL to expired.
func (s *Store) ExpireStale(ctx context.Context, now time.Time, attemptTTL time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE attempt SET status = 'expired', updated_at = $1, version = version + 1
		WHERE status IN ('pending_code', 'code_sent', 'verified') AND created_at <= $2
	`), toMillis(now), toMillis(now.Add(-attemptTTL)))
	if err != nil {
		return 0, fmt.Errorf("failed to expire attempts: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTerminal deletes terminal attempts last touched before the cutoff.
// Votes are kept; overridden attempts are kept for audit.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM attempt
		WHERE status IN ('committed', 'expired', 'rejected') AND updated_at < $1
		  AND id NOT IN (SELECT attempt_id FROM override)
	`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", err)
	}
	return res.RowsAffected()
}

// LoadTally returns every persisted region counter with its sequence.
func (s *Store) LoadTally(ctx context.Context) ([]tally.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT candidate_id, country, region, votes, seq FROM tally
		WHERE country <> $1 AND region <> $1
		ORDER BY candidate_id, country, region
	`), Rollup)
	if err != nil {
		return nil, fmt.Errorf("failed to load tally: %w", err)
	}
	defer rows.Close()

	var out []tally.Row
	for rows.Next() {
		var r tally.Row
		if err := rows.Scan(&r.Key.CandidateID, &r.Key.Country, &r.Key.Region, &r.Votes, &r.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CandidateTotal reads the persisted rollup for one candidate.
func (s *Store) CandidateTotal(ctx context.Context, candidateID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT votes FROM tally WHERE candidate_id = $1 AND country = $2 AND region = $2
	`), candidateID, Rollup).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read tally: %w", err)
	}
	return n, nil
}

// CountVotes counts counted (non-voided) votes for a candidate.
func (s *Store) CountVotes(ctx context.Context, candidateID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM vote WHERE candidate_id = $1 AND voided = $2
	`), candidateID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return n, nil
}

// GetVote returns apperrors.ErrVoteNotFound for unknown ids.
func (s *Store) GetVote(ctx context.Context, id string) (*models.Vote, error) {
	return s.getVote(ctx, s.db, id)
}

func (s *Store) getVote(ctx context.Context, q queryer, id string) (*models.Vote, error) {
	var (
		v                     models.Vote
		channel               string
		committedAt, voidedAt int64
	)
	err := q.QueryRowContext(ctx, s.q(`
		SELECT id, candidate_id, fingerprint, country, region, channel, flagged, source,
		       committed_at, voided, voided_at, void_reason
		FROM vote WHERE id = $1
	`), id).Scan(&v.ID, &v.CandidateID, &v.Fingerprint, &v.Country, &v.Region, &channel,
		&v.Flagged, &v.Source, &committedAt, &v.Voided, &voidedAt, &v.VoidReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrVoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vote: %w", err)
	}
	v.Channel = models.Channel(channel)
	v.CommittedAt = fromMillis(committedAt)
	v.VoidedAt = fromMillis(voidedAt)
	return &v, nil
}

func keyOf(v models.Vote) tally.Key {
	return tally.Key{CandidateID: v.CandidateID, Country: v.Country, Region: v.Region}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*models.Attempt, error) {
	var (
		a                                   models.Attempt
		dob, channel, status, band, reasons string
		codeExpires, codeSent, decidedAt    int64
		createdAt, updatedAt, committedAt   int64
	)
	err := row.Scan(
		&a.ID, &a.CandidateID, &a.FullName, &dob, &channel, &a.Address, &a.Country, &a.Region,
		&a.Fingerprint, &a.OriginHash, &a.OriginKnown, &a.OriginProxy, &a.OriginCountry,
		&a.CodeHash, &codeExpires, &codeSent, &a.ResendCount, &a.FailedCodes,
		&status, &a.Decision.Score, &band, &reasons, &a.Decision.Outcome, &decidedAt,
		&a.Version, &createdAt, &updatedAt, &committedAt,
	)
	if err != nil {
		return nil, err
	}

	a.DateOfBirth, err = time.Parse(dobLayout, dob)
	if err != nil {
		return nil, fmt.Errorf("bad birth date %q: %w", dob, err)
	}
	a.Channel = models.Channel(channel)
	a.Status = models.Status(status)
	a.Decision.Band = models.Band(band)
	a.Decision.Reasons = splitReasons(reasons)
	a.CodeExpiresAt = fromMillis(codeExpires)
	a.CodeSentAt = fromMillis(codeSent)
	a.Decision.DecidedAt = fromMillis(decidedAt)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.CommittedAt = fromMillis(committedAt)
	return &a, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, ",")
}

func splitReasons(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
