package handlers

import (
	"net/http"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/tally"
	"github.com/lakayvote/intake/testutil"
)

func TestAggregateCaching(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	w := s.do(testutil.MakeRequest("GET", "/stats/aggregate", nil, nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Equal(t, "public, max-age=2", w.Header().Get("Cache-Control"))
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var empty models.AggregateResponse
	testutil.AssertJSON(t, w, &empty)
	assert.Empty(t, empty.PerCandidate)
	assert.NotNil(t, empty.PerCandidate)

	w = s.do(testutil.MakeRequest("GET", "/stats/aggregate", nil, map[string]string{"If-None-Match": etag}))
	testutil.AssertStatus(t, w, http.StatusNotModified)
	assert.Empty(t, w.Body.String())

	id, code := s.begin(t, 1, "cand-1")
	s.verify(t, id, code)

	w = s.do(testutil.MakeRequest("GET", "/stats/aggregate", nil, map[string]string{"If-None-Match": etag}))
	testutil.AssertStatus(t, w, http.StatusOK)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))

	var resp models.AggregateResponse
	testutil.AssertJSON(t, w, &resp)
	assert.Equal(t, []models.CandidateTotal{{CandidateID: "cand-1", Votes: 1}}, resp.PerCandidate)
	assert.Equal(t, []models.RegionTotal{{CandidateID: "cand-1", Country: "HT", Region: "Ouest", Votes: 1}}, resp.PerRegion)
}

func TestAggregateResponseOrder(t *testing.T) {
	counter := tally.NewCounter(clockwork.NewFakeClockAt(testutil.Epoch))
	counter.ApplyVote(tally.Key{CandidateID: "b", Country: "US", Region: "NY"})
	counter.ApplyVote(tally.Key{CandidateID: "a", Country: "HT", Region: "Sud"})
	counter.ApplyVote(tally.Key{CandidateID: "a", Country: "HT", Region: "Nord"})
	counter.ApplyVote(tally.Key{CandidateID: "a", Country: "CA", Region: "QC"})

	resp := aggregateResponse(counter.Snapshot())

	assert.Equal(t, []models.CandidateTotal{
		{CandidateID: "a", Votes: 3},
		{CandidateID: "b", Votes: 1},
	}, resp.PerCandidate)
	assert.Equal(t, []models.CountryTotal{
		{CandidateID: "a", Country: "CA", Votes: 1},
		{CandidateID: "a", Country: "HT", Votes: 2},
		{CandidateID: "b", Country: "US", Votes: 1},
	}, resp.PerCountry)
	require.Len(t, resp.PerRegion, 4)
	assert.Equal(t, "Nord", resp.PerRegion[1].Region)
	assert.Equal(t, "Sud", resp.PerRegion[2].Region)
	assert.Equal(t, uint64(4), resp.Version)
}

func TestETagMatches(t *testing.T) {
	etag := `"3-1700000000000"`
	assert.True(t, etagMatches(etag, etag))
	assert.True(t, etagMatches(`W/"3-1700000000000"`, etag))
	assert.True(t, etagMatches(`"1-1", "3-1700000000000"`, etag))
	assert.True(t, etagMatches("*", etag))
	assert.False(t, etagMatches(`"2-1700000000000"`, etag))
}
