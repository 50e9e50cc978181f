// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lakayvote/intake/middleware"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/tally"
)

type StatsHandler struct {
	counter *tally.Counter
}

func NewStatsHandler(counter *tally.Counter) *StatsHandler {
	return &StatsHandler{counter: counter}
}

// Aggregate handles GET /stats/aggregate. Responses are cacheable for two
// seconds and revalidate against the snapshot version.
func (h *StatsHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	snap := h.counter.Snapshot()
	etag := fmt.Sprintf(`"%d-%d"`, snap.Version, snap.Timestamp.UnixMilli())

	w.Header().Set("Cache-Control", "public, max-age=2")
	w.Header().Set("ETag", etag)

	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, aggregateResponse(snap))
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// aggregateResponse flattens a snapshot into lists sorted by candidate,
// country and region.
func aggregateResponse(snap *tally.Snapshot) models.AggregateResponse {
	resp := models.AggregateResponse{
		PerCandidate: make([]models.CandidateTotal, 0, len(snap.PerCandidate)),
		PerCountry:   make([]models.CountryTotal, 0, len(snap.PerCountry)),
		PerRegion:    make([]models.RegionTotal, 0, len(snap.PerRegion)),
		Version:      snap.Version,
		Timestamp:    snap.Timestamp,
	}

	for _, id := range snap.Candidates() {
		resp.PerCandidate = append(resp.PerCandidate, models.CandidateTotal{
			CandidateID: id,
			Votes:       snap.PerCandidate[id],
		})
	}
	for k, n := range snap.PerCountry {
		resp.PerCountry = append(resp.PerCountry, models.CountryTotal{
			CandidateID: k.CandidateID,
			Country:     k.Country,
			Votes:       n,
		})
	}
	for k, n := range snap.PerRegion {
		resp.PerRegion = append(resp.PerRegion, models.RegionTotal{
			CandidateID: k.CandidateID,
			Country:     k.Country,
			Region:      k.Region,
			Votes:       n,
		})
	}

	sort.Slice(resp.PerCountry, func(i, j int) bool {
		a, b := resp.PerCountry[i], resp.PerCountry[j]
		if a.CandidateID != b.CandidateID {
			return a.CandidateID < b.CandidateID
		}
		return a.Country < b.Country
	})
	sort.Slice(resp.PerRegion, func(i, j int) bool {
		a, b := resp.PerRegion[i], resp.PerRegion[j]
		if a.CandidateID != b.CandidateID {
			return a.CandidateID < b.CandidateID
		}
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		return a.Region < b.Region
	})
	return resp
}
