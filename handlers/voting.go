// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/intake"
	"github.com/lakayvote/intake/middleware"
	"github.com/lakayvote/intake/models"
)

type VotingHandler struct {
	machine    *intake.Machine
	logger     *zap.Logger
	trustProxy bool
}

func NewVotingHandler(machine *intake.Machine, logger *zap.Logger, trustProxy bool) *VotingHandler {
	return &VotingHandler{machine: machine, logger: logger, trustProxy: trustProxy}
}

// Begin handles POST /votes/begin
func (h *VotingHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req models.BeginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.machine.Begin(r.Context(), intake.BeginInput{
		Request:  req,
		ClientIP: middleware.GetClientIP(r, h.trustProxy),
	})
	if errors.Is(err, apperrors.ErrChannelDeliveryFailed) && res.AttemptID != "" {
		// The attempt exists; the client resends against it
		w.Header().Set("Retry-After", "30")
		middleware.JSONResponse(w, http.StatusServiceUnavailable, models.ErrorResponse{
			Error:     http.StatusText(http.StatusServiceUnavailable),
			Message:   err.Error(),
			AttemptID: res.AttemptID,
		})
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	middleware.JSONResponse(w, http.StatusCreated, models.BeginResponse{
		AttemptID:  res.AttemptID,
		Status:     res.Status,
		CodeExpiry: res.CodeExpiry,
	})
}

// Resend handles POST /votes/{attemptId}/resend
func (h *VotingHandler) Resend(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptId")

	expiry, err := h.machine.Resend(r.Context(), attemptID, middleware.GetClientIP(r, h.trustProxy))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.ResendResponse{CodeExpiry: expiry})
}

// Verify handles POST /votes/{attemptId}/verify. Every decided outcome,
// including rejections, is a 200 carrying the status.
func (h *VotingHandler) Verify(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptId")

	var req models.VerifyRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	res, err := h.machine.Verify(r.Context(), attemptID, req.Code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.VerifyResponse{
		Status: res.Status,
		Reason: res.Reason,
	})
}

// Status handles GET /votes/{attemptId}
func (h *VotingHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.machine.Status(r.Context(), chi.URLParam(r, "attemptId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}
