// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package cliparse handles command-line argument parsing and configuration.

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# CLI Flags

	-p              Server port
	-d              Database URL
	-t              Database type: sqlite, postgres or pgx
	-secret         Pipeline secret
	-admin-secret   Operator JWT secret
	-env-file       .env file to load (default .env)
	-policy         YAML fraud and rate limit policy

# Environment Variables

Flags fall back to the environment, which falls back to the .env file:

	PORT, DATABASE_URL, DATABASE_TYPE, PIPELINE_SECRET, ADMIN_JWT_SECRET,
	CODE_TTL, RESEND_COOLDOWN, MAX_RESENDS, MAX_CODE_FAILURES, ATTEMPT_TTL,
	ATTEMPT_RETENTION, SWEEP_INTERVAL, BLOCK_DURATION, STATS_REFRESH,
	MIN_AGE, CANDIDATES, NOTIFY_WEBHOOK_URL, REPUTATION_URL, TRUST_PROXY,
	LOG_LEVEL, ENV, POLICY_FILE

DATABASE_URL, PIPELINE_SECRET and ADMIN_JWT_SECRET are required. Durations
use time.ParseDuration syntax.

# Policy File

	fraud:
	  proxy: 30
	  geo_mismatch: 20
	  bands: {medium: 31, high: 61, critical: 81}
	rate_limits:
	  begin: {limit: 10, window: 1h}

Weights and band floors missing from the file keep their defaults. Every
critical result blocks its origin; spare_duplicate_origins: true exempts
results that carry a duplicate identity.
*/
package cliparse
