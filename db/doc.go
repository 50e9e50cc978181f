// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package db opens the database and manages its schema.

# Drivers

Open accepts three database types:

  - sqlite: modernc.org/sqlite, pure Go, used for development and tests
  - postgres: github.com/lib/pq
  - pgx: github.com/jackc/pgx/v5/stdlib

	conn, err := db.Open(ctx, "sqlite", "file:intake.db?_pragma=busy_timeout(5000)")

# Migrations

Migrate runs the embedded goose migrations under migrations/. It is safe to
call on every start; applied versions are skipped.

	if _, err := db.Migrate(ctx, conn, "sqlite"); err != nil {
		log.Fatal(err)
	}

# Tables

  - attempt: one row per submission attempt, with its verification code
    hash, fraud decision and optimistic-lock version
  - vote: one row per counted vote; id is the attempt id, fingerprint is unique
  - tally: persisted counters; '*' country/region rows are rollups
  - override: operator overrides of held attempts

Timestamps are stored as unix milliseconds so the same SQL runs on SQLite and
Postgres. Queries are written with $N placeholders and passed through Rebind.
*/
package db
