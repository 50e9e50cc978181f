// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/cliparse"
	"github.com/lakayvote/intake/handlers"
	"github.com/lakayvote/intake/intake"
	"github.com/lakayvote/intake/middleware"
	"github.com/lakayvote/intake/tally"
)

func NewRouter(machine *intake.Machine, counter *tally.Counter, cfg cliparse.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithLogging(logger))
	r.Use(middleware.CORS)

	// Initialize handlers
	votingHandler := handlers.NewVotingHandler(machine, logger, cfg.TrustProxy)
	statsHandler := handlers.NewStatsHandler(counter)
	adminHandler := handlers.NewAdminHandler(machine, logger)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Vote submission (public)
	r.Post("/votes/begin", votingHandler.Begin)
	r.Get("/votes/{attemptId}", votingHandler.Status)
	r.Post("/votes/{attemptId}/resend", votingHandler.Resend)
	r.Post("/votes/{attemptId}/verify", votingHandler.Verify)

	// Live totals (public, cached)
	r.Get("/stats/aggregate", statsHandler.Aggregate)

	// Fraud review (operators only)
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireOperator(cfg.AdminSecret))
		r.Get("/review", adminHandler.Review)
		r.Post("/attempts/{attemptId}/override", adminHandler.Override)
		r.Post("/votes/{voteId}/void", adminHandler.Void)
	})

	// Root endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vote intake API v1"))
	})

	return r
}
