// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package reputation asks an external service what it knows about a
// client address. Failures degrade to an unknown report and never block an
// attempt.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Report is what the reputation service knows about one address.
type Report struct {
	Known      bool   `json:"known"`
	IsProxy    bool   `json:"isProxy"`
	GeoCountry string `json:"geoCountry"`
}

//go:generate mockgen -destination=../mocks/lookup.go -package=mocks github.com/lakayvote/intake/reputation Lookup

// Lookup resolves the reputation of a client address.
type Lookup interface {
	Lookup(ctx context.Context, ip string) (Report, error)
}

// HTTPLookup queries GET {base}/{ip}.
type HTTPLookup struct {
	base   string
	client *http.Client
}

func NewHTTPLookup(base string, timeout time.Duration) *HTTPLookup {
	return &HTTPLookup{base: strings.TrimRight(base, "/"), client: &http.Client{Timeout: timeout}}
}

func (h *HTTPLookup) Lookup(ctx context.Context, ip string) (Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("reputation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Report{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	var payload struct {
		IsProxy    bool   `json:"isProxy"`
		GeoCountry string `json:"geoCountry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Report{}, fmt.Errorf("bad reputation payload: %w", err)
	}
	return Report{Known: true, IsProxy: payload.IsProxy, GeoCountry: strings.ToUpper(payload.GeoCountry)}, nil
}

// Unknown is used when no reputation service is configured.
type Unknown struct{}

func (Unknown) Lookup(ctx context.Context, ip string) (Report, error) {
	return Report{}, nil
}

// Safe bounds every lookup by timeout and turns failures into an unknown
// report.
type Safe struct {
	next    Lookup
	timeout time.Duration
	logger  *zap.Logger
}

func NewSafe(next Lookup, timeout time.Duration, logger *zap.Logger) *Safe {
	return &Safe{next: next, timeout: timeout, logger: logger}
}

// Lookup never returns an error.
func (s *Safe) Lookup(ctx context.Context, ip string) (Report, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.next.Lookup(ctx, ip)
	if err != nil {
		s.logger.Warn("reputation lookup failed, treating origin as unknown", zap.Error(err))
		return Report{}, nil
	}
	return report, nil
}
