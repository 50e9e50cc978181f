// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/middleware"
	"github.com/lakayvote/intake/models"
)

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// writeError maps a pipeline error onto a status code and JSON body.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		middleware.ErrorResponse(w, http.StatusBadRequest, ve.Error())
		return
	}

	if d, ok := apperrors.RetryAfter(err); ok {
		secs := retryAfterSeconds(d)
		msg := "retry " + humanize.Time(time.Now().Add(time.Duration(secs)*time.Second))
		if errors.Is(err, apperrors.ErrOriginBlocked) {
			msg = "origin temporarily blocked, " + msg
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		middleware.JSONResponse(w, http.StatusTooManyRequests, models.RateLimitedResponse{
			Error:      http.StatusText(http.StatusTooManyRequests),
			Message:    msg,
			RetryAfter: secs,
		})
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrAttemptNotFound), errors.Is(err, apperrors.ErrVoteNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrAttemptExpired):
		middleware.ErrorResponse(w, http.StatusGone, err.Error())
	case errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrNotOverridable),
		errors.Is(err, apperrors.ErrDuplicateVote),
		errors.Is(err, apperrors.ErrTooManyResends):
		middleware.ErrorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrAddressUndeliverable):
		middleware.ErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apperrors.ErrChannelDeliveryFailed):
		w.Header().Set("Retry-After", "30")
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Internal error")
	}
}
