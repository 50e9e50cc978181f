// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package intake drives a vote submission from its first request to a
committed or rejected vote.

An attempt moves pending_code → code_sent → verified → committed, or ends
expired or rejected. Every transition is a compare-and-swap on the attempt
version, so concurrent and retried calls reload and observe the winner's
result instead of applying twice.

The fraud verdict is computed once, when the code first verifies:

	low       commit
	medium    commit, flagged for review
	high      reject, held for an operator override
	critical  reject and block the origin

A commit hands the live counter the region row its transaction wrote, so
the counter converges on the persisted totals whatever order commits and
reloads land in.

Sweeper expires abandoned attempts in the background and purges terminal
ones past retention. Committed votes are never purged.
*/
package intake
