// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lakayvote/intake/cliparse"
	"github.com/lakayvote/intake/db"
	"github.com/lakayvote/intake/fraud"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/ratelimit"
)

// Epoch is the fixed instant fake clocks start from in tests. 14:00 UTC is
// outside the off-hours window.
var Epoch = time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)

// SetupTestDB opens a private in-memory SQLite database with every
// migration applied. It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	conn, err := db.Open(ctx, db.TypeSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := db.Migrate(ctx, conn, db.TypeSQLite); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:             3318,
		DatabaseURL:      ":memory:",
		DatabaseType:     db.TypeSQLite,
		Env:              "test",
		LogLevel:         "debug",
		Secret:           "test-pipeline-secret",
		AdminSecret:      "test-admin-secret",
		CodeTTL:          5 * time.Minute,
		ResendCooldown:   60 * time.Second,
		MaxResends:       5,
		MaxCodeFailures:  5,
		AttemptTTL:       30 * time.Minute,
		AttemptRetention: 72 * time.Hour,
		SweepInterval:    time.Minute,
		BlockDuration:    time.Hour,
		StatsRefresh:     2 * time.Second,
		MinAge:           18,
		Policy:           fraud.DefaultPolicy(),
		Budgets:          ratelimit.DefaultBudgets(),
	}
}

// NewAttempt builds a code_sent attempt owned by fingerprint. Callers
// adjust fields before storing it.
func NewAttempt(id, candidateID, fingerprint string, now time.Time) *models.Attempt {
	return &models.Attempt{
		ID:            id,
		CandidateID:   candidateID,
		FullName:      "Marie Joseph",
		DateOfBirth:   time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC),
		Channel:       models.ChannelPhone,
		Address:       "+50937000000",
		Country:       "HT",
		Region:        "Ouest",
		Fingerprint:   fingerprint,
		OriginHash:    "origin-" + id,
		CodeHash:      "hash-" + id,
		CodeExpiresAt: now.Add(5 * time.Minute),
		CodeSentAt:    now,
		Status:        models.StatusCodeSent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Person returns distinct, valid begin details for the n-th test voter.
func Person(n int, candidateID string) models.BeginRequest {
	return models.BeginRequest{
		CandidateID: candidateID,
		Name:        fmt.Sprintf("Voter Number %d", n),
		DOB:         "1985-06-01",
		Country:     "HT",
		Region:      "Ouest",
		Channel:     models.ChannelPhone,
		Address:     fmt.Sprintf("+509370%05d", n),
	}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
