// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package tally keeps the live aggregate vote counters.
//
// Writers are serialised by a mutex and publish a fresh immutable Snapshot
// through an atomic pointer. Readers load the pointer and never block, so
// they may see a slightly stale snapshot but never a torn one.
//
// Counters backed by a store take absolute region values tagged with the
// row's sequence number, through Apply and Replace. A value is only taken
// when its sequence is newer than the one already held, so a reload racing
// a commit can neither drop the commit nor count it twice.
package tally

import (
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Key addresses one region counter.
type Key struct {
	CandidateID string
	Country     string
	Region      string
}

// CountryKey addresses one candidate×country counter.
type CountryKey struct {
	CandidateID string
	Country     string
}

// Totals are the three counters touched by one vote after it applied.
type Totals struct {
	Candidate int64
	Country   int64
	Region    int64
}

// Row is one persisted region counter. Seq grows by one with every
// persisted change to the row.
type Row struct {
	Key   Key
	Votes int64
	Seq   int64
}

// Snapshot is an immutable, internally consistent view of every counter.
// Callers must not mutate its maps.
type Snapshot struct {
	PerCandidate map[string]int64
	PerCountry   map[CountryKey]int64
	PerRegion    map[Key]int64
	Version      uint64
	Timestamp    time.Time
}

// Candidates returns candidate ids in a stable order.
func (s *Snapshot) Candidates() []string {
	ids := make([]string, 0, len(s.PerCandidate))
	for id := range s.PerCandidate {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counter is the in-process aggregation store.
type Counter struct {
	mu    sync.Mutex
	snap  atomic.Pointer[Snapshot]
	seqs  map[Key]int64 // guarded by mu
	clock clockwork.Clock
}

// NewCounter returns an empty counter.
func NewCounter(clock clockwork.Clock) *Counter {
	c := &Counter{clock: clock, seqs: make(map[Key]int64)}
	c.snap.Store(&Snapshot{
		PerCandidate: map[string]int64{},
		PerCountry:   map[CountryKey]int64{},
		PerRegion:    map[Key]int64{},
		Timestamp:    clock.Now(),
	})
	return c
}

// ApplyVote increments the candidate, country and region counters for k
// as a single step and returns their new values. It is for counters with
// no persisted backing; store-backed counters use Apply.
func (c *Counter) ApplyVote(k Key) Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shift(k, 1)
}

// RevertVote undoes one ApplyVote for a voided vote.
func (c *Counter) RevertVote(k Key) Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shift(k, -1)
}

// Apply sets the region counter for r.Key to the persisted r.Votes and
// moves the candidate and country counters by the same difference. A row
// whose Seq is not newer than the one already applied is ignored.
func (c *Counter) Apply(r Row) Totals {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Seq <= c.seqs[r.Key] {
		return c.snap.Load().totals(r.Key)
	}
	c.seqs[r.Key] = r.Seq
	return c.shift(r.Key, r.Votes-c.snap.Load().PerRegion[r.Key])
}

// Snapshot never blocks.
func (c *Counter) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Replace swaps in counters rebuilt from persisted region rows. Regions
// applied with a newer Seq than the loaded row keep their current value.
// The snapshot, and with it the version, is kept when nothing changed.
func (c *Counter) Replace(rows []Row) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	votes := make(map[Key]int64, len(rows))
	seqs := make(map[Key]int64, len(rows))
	for _, r := range rows {
		if r.Seq < c.seqs[r.Key] {
			continue
		}
		votes[r.Key] = r.Votes
		seqs[r.Key] = r.Seq
	}
	// Applied after the rows were read
	for k, seq := range c.seqs {
		if seq > seqs[k] {
			votes[k] = cur.PerRegion[k]
			seqs[k] = seq
		}
	}
	c.seqs = seqs

	next := &Snapshot{
		PerCandidate: make(map[string]int64),
		PerCountry:   make(map[CountryKey]int64),
		PerRegion:    make(map[Key]int64, len(votes)),
		Version:      cur.Version + 1,
		Timestamp:    c.clock.Now(),
	}
	for k, v := range votes {
		if v == 0 {
			continue
		}
		next.PerRegion[k] = v
		next.PerCountry[CountryKey{k.CandidateID, k.Country}] += v
		next.PerCandidate[k.CandidateID] += v
	}
	if maps.Equal(next.PerRegion, cur.PerRegion) {
		return
	}
	c.snap.Store(next)
}

// shift moves the three counters for k by delta. c.mu must be held.
func (c *Counter) shift(k Key, delta int64) Totals {
	cur := c.snap.Load()
	if delta == 0 {
		return cur.totals(k)
	}

	next := cur.clone()
	next.Version = cur.Version + 1
	next.Timestamp = c.clock.Now()

	ck := CountryKey{k.CandidateID, k.Country}
	next.PerCandidate[k.CandidateID] += delta
	next.PerCountry[ck] += delta
	next.PerRegion[k] += delta

	t := next.totals(k)
	next.dropZero(k, ck)

	c.snap.Store(next)
	return t
}

func (s *Snapshot) totals(k Key) Totals {
	return Totals{
		Candidate: s.PerCandidate[k.CandidateID],
		Country:   s.PerCountry[CountryKey{k.CandidateID, k.Country}],
		Region:    s.PerRegion[k],
	}
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		PerCandidate: make(map[string]int64, len(s.PerCandidate)+1),
		PerCountry:   make(map[CountryKey]int64, len(s.PerCountry)+1),
		PerRegion:    make(map[Key]int64, len(s.PerRegion)+1),
	}
	for k, v := range s.PerCandidate {
		next.PerCandidate[k] = v
	}
	for k, v := range s.PerCountry {
		next.PerCountry[k] = v
	}
	for k, v := range s.PerRegion {
		next.PerRegion[k] = v
	}
	return next
}

func (s *Snapshot) dropZero(k Key, ck CountryKey) {
	if s.PerRegion[k] == 0 {
		delete(s.PerRegion, k)
	}
	if s.PerCountry[ck] == 0 {
		delete(s.PerCountry, ck)
	}
	if s.PerCandidate[k.CandidateID] == 0 {
		delete(s.PerCandidate, k.CandidateID)
	}
}
