// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package models

import "time"

// Status is the lifecycle state of a submission attempt.
type Status string

// Attempt status constants
const (
	StatusPendingCode Status = "pending_code"
	StatusCodeSent    Status = "code_sent"
	StatusVerified    Status = "verified"
	StatusCommitted   Status = "committed"
	StatusExpired     Status = "expired"
	StatusRejected    Status = "rejected"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusExpired || s == StatusRejected
}

// Channel is the verification channel a voter proves possession of.
type Channel string

// Verification channel constants
const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelPhone || c == ChannelEmail
}

// Band is a named range of the 0-100 fraud score.
type Band string

// Fraud band constants
const (
	BandNone     Band = ""
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// Rejection reasons visible to clients. Detailed scoring reasons are kept
// on the attempt for operators only.
const (
	ReasonDuplicateVote = "duplicate_vote"
	ReasonPendingReview = "pending_review"
	ReasonTooManyCodes  = "too_many_resends"
	ReasonTooManyTries  = "too_many_failures"
)

// Vote source constants
const (
	SourcePipeline = "pipeline"
	SourceOverride = "override"
)

// Domain types

// Attempt is one in-progress or terminal vote submission.
type Attempt struct {
	ID          string
	CandidateID string
	FullName    string
	DateOfBirth time.Time
	Channel     Channel
	Address     string
	Country     string
	Region      string
	Fingerprint string
	OriginHash  string

	// Reputation of the origin address captured when the attempt began.
	OriginKnown   bool
	OriginProxy   bool
	OriginCountry string

	CodeHash      string
	CodeExpiresAt time.Time
	CodeSentAt    time.Time
	ResendCount   int
	FailedCodes   int

	Status    Status
	Decision  Decision
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	// Zero until the attempt commits.
	CommittedAt time.Time
}

// Decision is the fraud verdict recorded once per attempt.
type Decision struct {
	Score     int
	Band      Band
	Reasons   []string
	Outcome   string
	DecidedAt time.Time
}

// Decided reports whether a verdict has been recorded.
func (d Decision) Decided() bool {
	return !d.DecidedAt.IsZero()
}

// Vote is the immutable fact produced by a committed attempt.
type Vote struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidate_id"`
	Fingerprint string    `json:"-"` // Never expose in JSON
	Country     string    `json:"country"`
	Region      string    `json:"region"`
	Channel     Channel   `json:"channel"`
	Flagged     bool      `json:"flagged"`
	Source      string    `json:"source"`
	CommittedAt time.Time `json:"committed_at"`
	Voided      bool      `json:"voided"`
	VoidedAt    time.Time `json:"voided_at,omitzero"`
	VoidReason  string    `json:"void_reason,omitempty"`
}

// Request types

type BeginRequest struct {
	CandidateID string  `json:"candidateId"`
	Name        string  `json:"name"`
	DOB         string  `json:"dob"` // YYYY-MM-DD
	Country     string  `json:"country"`
	Region      string  `json:"region"`
	Channel     Channel `json:"channel"`
	Address     string  `json:"address"`
}

type VerifyRequest struct {
	Code string `json:"code"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
}

// Response types

type BeginResponse struct {
	AttemptID  string    `json:"attemptId"`
	Status     Status    `json:"status"`
	CodeExpiry time.Time `json:"codeExpiry"`
}

type ResendResponse struct {
	CodeExpiry time.Time `json:"codeExpiry"`
}

// VerifyResponse carries committed|rejected|invalid|expired.
type VerifyResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type AttemptStatusResponse struct {
	AttemptID  string    `json:"attemptId"`
	Status     Status    `json:"status"`
	Channel    Channel   `json:"channel"`
	CodeExpiry time.Time `json:"codeExpiry,omitzero"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type RateLimitedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter"` // seconds
}

// Aggregate snapshot types

type CandidateTotal struct {
	CandidateID string `json:"candidateId"`
	Votes       int64  `json:"votes"`
}

type CountryTotal struct {
	CandidateID string `json:"candidateId"`
	Country     string `json:"country"`
	Votes       int64  `json:"votes"`
}

type RegionTotal struct {
	CandidateID string `json:"candidateId"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	Votes       int64  `json:"votes"`
}

type AggregateResponse struct {
	PerCandidate []CandidateTotal `json:"perCandidate"`
	PerCountry   []CountryTotal   `json:"perCountry"`
	PerRegion    []RegionTotal    `json:"perRegion"`
	Version      uint64           `json:"version"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Operator types

type ReviewItem struct {
	AttemptID   string    `json:"attemptId"`
	CandidateID string    `json:"candidateId"`
	Country     string    `json:"country"`
	Region      string    `json:"region"`
	Status      Status    `json:"status"`
	Score       int       `json:"score"`
	Band        Band      `json:"band"`
	Reasons     []string  `json:"reasons"`
	DecidedAt   time.Time `json:"decidedAt"`
}

type OverrideResponse struct {
	VoteID string `json:"voteId"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// Set when the attempt exists even though the call failed.
	AttemptID string `json:"attemptId,omitempty"`
}
