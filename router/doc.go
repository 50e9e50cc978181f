// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package router defines HTTP routes for the vote intake API.

	handler := router.NewRouter(machine, counter, cfg, logger)

# Endpoints

Health:

	GET /health

Vote submission (public):

	POST /votes/begin               - Validate details, send a code
	GET  /votes/{attemptId}         - Attempt state
	POST /votes/{attemptId}/resend  - Replace the code
	POST /votes/{attemptId}/verify  - Check the code, score, commit

Live totals (public, cacheable for two seconds):

	GET /stats/aggregate

Fraud review (operator bearer token):

	GET  /admin/review?band=high&limit=50
	POST /admin/attempts/{attemptId}/override
	POST /admin/votes/{voteId}/void
*/
package router
