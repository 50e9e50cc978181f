// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package main provides the entry point for the vote intake server.

The server accepts public vote submissions, proves that each voter controls
a phone number or email address with a one-time code, scores every verified
submission for fraud and commits at most one vote per identity. Live totals
per candidate, country and region are served from memory.

# Starting the Server

Configuration comes from flags, the environment or a .env file:

	DATABASE_URL=intake.db PIPELINE_SECRET=... ADMIN_JWT_SECRET=... go run .

Or with flags against Postgres:

	go run . -p 3318 -t pgx -d "postgres://..." -policy policy.yaml

# Operator Tokens

The review API under /admin takes a bearer token signed with
ADMIN_JWT_SECRET:

	ADMIN_JWT_SECRET=... go run . operator-token -name alice -ttl 8h

# Architecture

  - intake: submission state machine and the background sweeper
  - gateway: one-time code issue, resend and check
  - fraud: signal collection and weighted scoring
  - ratelimit: sliding window budgets and origin blocks
  - tally: lock-free aggregate snapshots and their refresher
  - store, db: SQL persistence and embedded migrations
  - notify, reputation: delivery provider and origin reputation clients
  - handlers, router, middleware: HTTP binding
  - auth: key derivation, code hashing, fingerprints, operator JWTs
  - cliparse: configuration parsing

The HTTP server, sweeper and tally refresher run under one errgroup and stop
together on SIGINT or SIGTERM.
*/
package main
