package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lakayvote/intake/fraud"
	"github.com/lakayvote/intake/ratelimit"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	Env          string
	LogLevel     string

	// Master secret; code, fingerprint and IP hash keys are derived from it.
	Secret      string
	AdminSecret string

	CodeTTL          time.Duration
	ResendCooldown   time.Duration
	MaxResends       int
	MaxCodeFailures  int
	AttemptTTL       time.Duration
	AttemptRetention time.Duration
	SweepInterval    time.Duration
	BlockDuration    time.Duration
	StatsRefresh     time.Duration
	MinAge           int
	Candidates       []string

	NotifyWebhookURL string
	ReputationURL    string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	Policy  fraud.Policy
	Budgets ratelimit.Budgets
}

// PolicyFile is the optional YAML document named by -policy.
type PolicyFile struct {
	Fraud      *fraud.Policy                         `yaml:"fraud"`
	RateLimits map[ratelimit.Action]ratelimit.Budget `yaml:"rate_limits"`
}

// ParseFlags validates flags and falls back to the environment, then to a
// .env file, then to defaults.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var envFile, policyFile string

	fs := flag.NewFlagSet("intake", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite, postgres or pgx)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.Secret, "secret", "", "Pipeline secret (prefer env)")
	fs.StringVar(&cfg.AdminSecret, "admin-secret", "", "Operator JWT secret (prefer env)")

	fs.StringVar(&envFile, "env-file", "", "Optional .env file")
	fs.StringVar(&policyFile, "policy", "", "Optional YAML fraud and rate limit policy")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if envFile == "" {
		envFile = os.Getenv("ENV_FILE")
	}
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv.Load never overrides variables that are already set
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		port, err := envInt("PORT", 3318)
		if err != nil {
			return Config{}, err
		}
		cfg.Port = port
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = envString("DATABASE_TYPE", "sqlite")
	}
	switch cfg.DatabaseType {
	case "sqlite", "postgres", "pgx":
	default:
		return Config{}, fmt.Errorf("invalid DATABASE_TYPE %q", cfg.DatabaseType)
	}

	// Secrets - MUST be provided
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv("PIPELINE_SECRET")
	}
	if cfg.Secret == "" {
		return Config{}, errors.New("PIPELINE_SECRET required")
	}

	if cfg.AdminSecret == "" {
		cfg.AdminSecret = os.Getenv("ADMIN_JWT_SECRET")
	}
	if cfg.AdminSecret == "" {
		return Config{}, errors.New("ADMIN_JWT_SECRET required")
	}

	cfg.Env = envString("ENV", "development")
	cfg.LogLevel = envString("LOG_LEVEL", "info")
	cfg.NotifyWebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")
	cfg.ReputationURL = os.Getenv("REPUTATION_URL")
	cfg.Candidates = splitList(os.Getenv("CANDIDATES"))
	if s := os.Getenv("TRUST_PROXY"); s != "" {
		trust, err := strconv.ParseBool(s)
		if err != nil {
			return Config{}, errors.New("invalid TRUST_PROXY env variable")
		}
		cfg.TrustProxy = trust
	}

	durations := []struct {
		dst  *time.Duration
		name string
		def  time.Duration
	}{
		{&cfg.CodeTTL, "CODE_TTL", 5 * time.Minute},
		{&cfg.ResendCooldown, "RESEND_COOLDOWN", 60 * time.Second},
		{&cfg.AttemptTTL, "ATTEMPT_TTL", 30 * time.Minute},
		{&cfg.AttemptRetention, "ATTEMPT_RETENTION", 72 * time.Hour},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", time.Minute},
		{&cfg.BlockDuration, "BLOCK_DURATION", time.Hour},
		{&cfg.StatsRefresh, "STATS_REFRESH", 2 * time.Second},
	}
	for _, d := range durations {
		v, err := envDuration(d.name, d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	ints := []struct {
		dst  *int
		name string
		def  int
	}{
		{&cfg.MaxResends, "MAX_RESENDS", 5},
		{&cfg.MaxCodeFailures, "MAX_CODE_FAILURES", 5},
		{&cfg.MinAge, "MIN_AGE", 18},
	}
	for _, i := range ints {
		v, err := envInt(i.name, i.def)
		if err != nil {
			return Config{}, err
		}
		*i.dst = v
	}

	cfg.Policy = fraud.DefaultPolicy()
	cfg.Budgets = ratelimit.DefaultBudgets()

	if policyFile == "" {
		policyFile = os.Getenv("POLICY_FILE")
	}
	if policyFile != "" {
		pf, err := LoadPolicyFile(policyFile)
		if err != nil {
			return Config{}, err
		}
		if pf.Fraud != nil {
			cfg.Policy = *pf.Fraud
		}
		for action, budget := range pf.RateLimits {
			cfg.Budgets[action] = budget
		}
	}

	// Per-attempt budgets live as long as the attempt
	for _, action := range []ratelimit.Action{ratelimit.ActionResend, ratelimit.ActionVerify} {
		if b, ok := cfg.Budgets[action]; ok && b.Window == 0 {
			b.Window = cfg.AttemptTTL
			cfg.Budgets[action] = b
		}
	}

	return cfg, nil
}

// LoadPolicyFile reads a YAML policy. Fraud weights and band floors not
// named in the file keep their defaults.
func LoadPolicyFile(path string) (PolicyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PolicyFile{}, fmt.Errorf("failed to read policy: %w", err)
	}

	defaults := fraud.DefaultPolicy()
	pf := PolicyFile{Fraud: &defaults}
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return PolicyFile{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	if pf.Fraud != nil {
		if err := pf.Fraud.Bands.Validate(); err != nil {
			return PolicyFile{}, fmt.Errorf("invalid fraud bands: %w", err)
		}
	}
	for action, b := range pf.RateLimits {
		if b.Limit < 0 || b.Window < 0 {
			return PolicyFile{}, fmt.Errorf("invalid rate limit for %s", action)
		}
	}
	return pf, nil
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s env variable", name)
	}
	return v, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s env variable", name)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
