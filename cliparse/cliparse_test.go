// cliparse/cliparse_test.go
package cliparse

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakayvote/intake/fraud"
	"github.com/lakayvote/intake/ratelimit"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("PIPELINE_SECRET", "pipeline-secret")
	t.Setenv("ADMIN_JWT_SECRET", "admin-secret")
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestParseFlags_EnvVars(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("CODE_TTL", "10m")
	t.Setenv("MAX_RESENDS", "3")
	t.Setenv("CANDIDATES", "cand-1, cand-2,,")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := ParseFlags([]string{})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 10*time.Minute, cfg.CodeTTL)
	assert.Equal(t, 3, cfg.MaxResends)
	assert.Equal(t, []string{"cand-1", "cand-2"}, cfg.Candidates)
	assert.True(t, cfg.TrustProxy)
}

func TestParseFlags_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := ParseFlags([]string{})
	require.NoError(t, err)

	assert.Equal(t, 3318, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CodeTTL)
	assert.Equal(t, 60*time.Second, cfg.ResendCooldown)
	assert.Equal(t, 5, cfg.MaxResends)
	assert.Equal(t, 5, cfg.MaxCodeFailures)
	assert.Equal(t, 30*time.Minute, cfg.AttemptTTL)
	assert.Equal(t, 2*time.Second, cfg.StatsRefresh)
	assert.Equal(t, 18, cfg.MinAge)
	assert.Equal(t, 5, cfg.Budgets[ratelimit.ActionBegin].Limit)
	assert.Equal(t, 90, cfg.Policy.DuplicateFloor)
}

func TestParseFlags_CLIOverridesEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")

	cfg, err := ParseFlags([]string{"-p", "8080", "-d", "postgres://x", "-t", "pgx", "-secret", "s1", "-admin-secret", "s2"})
	require.NoError(t, err)

	// CLI should override env
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres://x", cfg.DatabaseURL)
	assert.Equal(t, "pgx", cfg.DatabaseType)
	assert.Equal(t, "s1", cfg.Secret)
	assert.Equal(t, "s2", cfg.AdminSecret)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		env   map[string]string
	}{
		{name: "missing database", unset: "DATABASE_URL"},
		{name: "missing secret", unset: "PIPELINE_SECRET"},
		{name: "missing admin secret", unset: "ADMIN_JWT_SECRET"},
		{name: "bad port", env: map[string]string{"PORT": "eighty"}},
		{name: "bad duration", env: map[string]string{"CODE_TTL": "soon"}},
		{name: "negative duration", env: map[string]string{"RESEND_COOLDOWN": "-1s"}},
		{name: "bad database type", env: map[string]string{"DATABASE_TYPE": "mysql"}},
		{name: "bad trust proxy", env: map[string]string{"TRUST_PROXY": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := ParseFlags([]string{})
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_EnvFile(t *testing.T) {
	setRequired(t)
	// The file only fills variables that are absent from the environment
	t.Setenv("MIN_AGE", "")
	os.Unsetenv("PIPELINE_SECRET")
	os.Unsetenv("MIN_AGE")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PIPELINE_SECRET=from-file\nMIN_AGE=16\n"), 0o600))

	cfg, err := ParseFlags([]string{"-env-file", path})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Secret)
	assert.Equal(t, 16, cfg.MinAge)
}

func TestParseFlags_PolicyFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	policy := `
fraud:
  proxy: 40
  geo_mismatch: 10
  spare_duplicate_origins: true
  bands:
    medium: 25
    high: 55
    critical: 75
rate_limits:
  begin:
    limit: 2
    window: 30m
  verify:
    limit: 3
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	cfg, err := ParseFlags([]string{"-policy", path})
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Policy.Proxy)
	assert.Equal(t, 10, cfg.Policy.GeoMismatch)
	// Unnamed weights keep defaults
	assert.Equal(t, 90, cfg.Policy.DuplicateFloor)
	assert.Equal(t, fraud.Bands{Medium: 25, High: 55, Critical: 75}, cfg.Policy.Bands)
	assert.True(t, cfg.Policy.SpareDuplicateOrigins)

	assert.Equal(t, ratelimit.Budget{Limit: 2, Window: 30 * time.Minute}, cfg.Budgets[ratelimit.ActionBegin])
	// Missing window falls back to the attempt TTL
	assert.Equal(t, ratelimit.Budget{Limit: 3, Window: 30 * time.Minute}, cfg.Budgets[ratelimit.ActionVerify])
	assert.Equal(t, 5, cfg.Budgets[ratelimit.ActionResend].Limit)
}

func TestLoadPolicyFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPolicyFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rate_limits:\n  begin:\n    limit: -1\n"), 0o600))
	_, err = LoadPolicyFile(bad)
	assert.Error(t, err)

	bands := filepath.Join(dir, "bands.yaml")
	require.NoError(t, os.WriteFile(bands, []byte("fraud:\n  bands: {medium: 70, high: 60, critical: 90}\n"), 0o600))
	_, err = LoadPolicyFile(bands)
	assert.ErrorContains(t, err, "band")

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("fraud: [1, 2"), 0o600))
	_, err = LoadPolicyFile(garbage)
	assert.Error(t, err)
}
