package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lakayvote/intake/auth"
	"github.com/lakayvote/intake/db"
	"github.com/lakayvote/intake/fraud"
	"github.com/lakayvote/intake/gateway"
	"github.com/lakayvote/intake/intake"
	"github.com/lakayvote/intake/middleware"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/notify"
	"github.com/lakayvote/intake/ratelimit"
	"github.com/lakayvote/intake/reputation"
	"github.com/lakayvote/intake/store"
	"github.com/lakayvote/intake/tally"
	"github.com/lakayvote/intake/testutil"
)

// testServer wires the real pipeline on an in-memory database behind the
// same routes the router mounts.
type testServer struct {
	mux     http.Handler
	store   *store.Store
	counter *tally.Counter
	clock   *clockwork.FakeClock
	outbox  *notify.Memory
	token   string
}

type serverOptions struct {
	sender notify.Sender
	lookup reputation.Lookup
	policy func(*fraud.Policy)
}

func newTestServer(t *testing.T, o serverOptions) *testServer {
	t.Helper()

	tc := testutil.GetTestConfig()
	keys, err := auth.DeriveKeys(tc.Secret)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	clock := clockwork.NewFakeClockAt(testutil.Epoch)
	st := store.New(testutil.SetupTestDB(t), db.TypeSQLite)
	outbox := notify.NewMemory()
	sender := o.sender
	if sender == nil {
		sender = outbox
	}
	lookup := o.lookup
	if lookup == nil {
		lookup = reputation.Unknown{}
	}
	policy := fraud.DefaultPolicy()
	if o.policy != nil {
		o.policy(&policy)
	}

	gw := gateway.New(st, sender, keys.Code, clock, gateway.Config{
		CodeTTL:        tc.CodeTTL,
		ResendCooldown: tc.ResendCooldown,
		AttemptTTL:     tc.AttemptTTL,
		MaxResends:     tc.MaxResends,
		MaxFailures:    tc.MaxCodeFailures,
	}, logger)
	limiter := ratelimit.New(clock, tc.Budgets, 6)
	counter := tally.NewCounter(clock)
	machine := intake.NewMachine(st, gw, limiter, counter, lookup, keys, clock, intake.Config{
		MinAge:        tc.MinAge,
		Candidates:    []string{"cand-1", "cand-2"},
		BlockDuration: tc.BlockDuration,
		Policy:        policy,
	}, logger)

	voting := NewVotingHandler(machine, logger, false)
	stats := NewStatsHandler(counter)
	admin := NewAdminHandler(machine, logger)

	r := chi.NewRouter()
	r.Post("/votes/begin", voting.Begin)
	r.Get("/votes/{attemptId}", voting.Status)
	r.Post("/votes/{attemptId}/resend", voting.Resend)
	r.Post("/votes/{attemptId}/verify", voting.Verify)
	r.Get("/stats/aggregate", stats.Aggregate)
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireOperator(tc.AdminSecret))
		r.Get("/review", admin.Review)
		r.Post("/attempts/{attemptId}/override", admin.Override)
		r.Post("/votes/{voteId}/void", admin.Void)
	})

	token, err := auth.IssueOperatorToken(tc.AdminSecret, "ops@example.org", time.Hour, time.Now())
	require.NoError(t, err)

	return &testServer{
		mux:     r,
		store:   st,
		counter: counter,
		clock:   clock,
		outbox:  outbox,
		token:   token,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return s.do(testutil.MakeRequest(method, path, body, map[string]string{
		"Authorization": "Bearer " + s.token,
	}))
}

// begin opens an attempt for voter n and returns its id and code.
func (s *testServer) begin(t *testing.T, n int, candidateID string) (string, string) {
	t.Helper()
	req := testutil.Person(n, candidateID)
	w := s.do(testutil.MakeRequest("POST", "/votes/begin", req, nil))
	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp models.BeginResponse
	testutil.AssertJSON(t, w, &resp)

	msg, ok := s.outbox.Last(auth.NormalizeAddress(string(req.Channel), req.Address))
	require.True(t, ok)
	return resp.AttemptID, msg.Code
}

func (s *testServer) verify(t *testing.T, attemptID, code string) models.VerifyResponse {
	t.Helper()
	w := s.do(testutil.MakeRequest("POST", "/votes/"+attemptID+"/verify", models.VerifyRequest{Code: code}, nil))
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.VerifyResponse
	testutil.AssertJSON(t, w, &resp)
	return resp
}
