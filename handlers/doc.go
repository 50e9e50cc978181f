// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package handlers contains HTTP request handlers for the vote intake API.

  - VotingHandler: begin, resend, verify and status of an attempt
  - StatsHandler: aggregate totals with ETag revalidation
  - AdminHandler: review queue, override and void for operators

# Error Mapping

Pipeline errors map onto status codes in one place:

	ValidationError            400
	attempt / vote not found   404
	attempt expired            410
	conflicting state          409
	RateLimitedError           429 + Retry-After
	address refused            422
	delivery failed            503 + Retry-After (attemptId kept)

Verify answers 200 for every decided outcome; the body's status is one of
committed, rejected, invalid or expired. Rejections carry a coarse reason
and never the fraud score.
*/
package handlers
