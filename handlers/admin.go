// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/intake"
	"github.com/lakayvote/intake/middleware"
	"github.com/lakayvote/intake/models"
)

// AdminHandler serves the operator API. Routes are expected behind
// middleware.RequireOperator.
type AdminHandler struct {
	machine *intake.Machine
	logger  *zap.Logger
}

func NewAdminHandler(machine *intake.Machine, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{machine: machine, logger: logger}
}

// Review handles GET /admin/review?band=high&limit=50
func (h *AdminHandler) Review(w http.ResponseWriter, r *http.Request) {
	band := models.Band(r.URL.Query().Get("band"))
	if band == models.BandNone {
		band = models.BandHigh
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := h.machine.ReviewQueue(r.Context(), band, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []models.ReviewItem{}
	}
	middleware.JSONResponse(w, http.StatusOK, items)
}

// Override handles POST /admin/attempts/{attemptId}/override
func (h *AdminHandler) Override(w http.ResponseWriter, r *http.Request) {
	vote, err := h.machine.Override(r.Context(), chi.URLParam(r, "attemptId"), middleware.Operator(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.OverrideResponse{VoteID: vote.ID})
}

// Void handles POST /admin/votes/{voteId}/void
func (h *AdminHandler) Void(w http.ResponseWriter, r *http.Request) {
	var req models.VoidRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	vote, err := h.machine.Void(r.Context(), chi.URLParam(r, "voteId"), req.Reason, middleware.Operator(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, vote)
}
