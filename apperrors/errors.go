// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package apperrors holds the error taxonomy shared by the intake pipeline.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAttemptNotFound       = errors.New("attempt not found")
	ErrAttemptExpired        = errors.New("attempt expired")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrConflict              = errors.New("concurrent modification")
	ErrChannelDeliveryFailed = errors.New("verification code delivery failed")
	ErrAddressUndeliverable  = errors.New("address refused by delivery provider")
	ErrCodeExpired           = errors.New("verification code expired")
	ErrCodeInvalid           = errors.New("verification code invalid")
	ErrTooManyResends        = errors.New("too many code resends")
	ErrTooManyFailures       = errors.New("too many failed code entries")
	ErrFraudRejected         = errors.New("submission held for review")
	ErrDuplicateVote         = errors.New("identity has already voted")
	ErrOriginBlocked         = errors.New("origin temporarily blocked")
	ErrVoteNotFound          = errors.New("vote not found")
	ErrNotOverridable        = errors.New("attempt cannot be overridden")
)

// ValidationError reports malformed input. It is resolved at the boundary
// and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitedError is retryable once RetryAfter has elapsed.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s", e.Action, e.RetryAfter)
}

// RateLimited builds a RateLimitedError.
func RateLimited(action string, retryAfter time.Duration) error {
	return &RateLimitedError{Action: action, RetryAfter: retryAfter}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RetryAfter extracts the delay from a RateLimitedError.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
