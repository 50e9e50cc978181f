// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package fraud scores a verified attempt before it may commit.
//
// Score is a pure function of a Policy and a list of Signals: no clocks,
// no storage, no hidden state.
package fraud

import (
	"fmt"
	"strings"

	"github.com/lakayvote/intake/models"
)

const MaxScore = 100

// Bands holds the lower bound of each band. Bounds are closed, so a score
// equal to a bound lands in the higher band.
type Bands struct {
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// DefaultBands: low 0-30, medium 31-60, high 61-80, critical 81-100.
func DefaultBands() Bands {
	return Bands{Medium: 31, High: 61, Critical: 81}
}

// Validate checks that the bounds ascend inside 1..MaxScore.
func (b Bands) Validate() error {
	if b.Medium < 1 || b.Medium >= b.High || b.High >= b.Critical || b.Critical > MaxScore {
		return fmt.Errorf("band floors must ascend within 1..%d, got %d/%d/%d", MaxScore, b.Medium, b.High, b.Critical)
	}
	return nil
}

// Classify maps a score to its band.
func (b Bands) Classify(score int) models.Band {
	switch {
	case score >= b.Critical:
		return models.BandCritical
	case score >= b.High:
		return models.BandHigh
	case score >= b.Medium:
		return models.BandMedium
	default:
		return models.BandLow
	}
}

// Signal is one piece of evidence about an attempt.
type Signal interface {
	signal()
}

// DuplicateIdentity: the fingerprint already owns a committed vote.
type DuplicateIdentity struct{}

// OriginVelocity counts attempts from the same origin inside the window,
// including the one being scored.
type OriginVelocity struct{ Count int }

// IdentityVelocity counts attempts carrying the same fingerprint.
type IdentityVelocity struct{ Count int }

// AnonymizingProxy: the origin reputation flagged a VPN or proxy.
type AnonymizingProxy struct{}

// GeoMismatch: the claimed country differs from the origin's geolocation.
type GeoMismatch struct{ Claimed, Observed string }

// ExcessResends carries the attempt's resend count.
type ExcessResends struct{ Count int }

// OffHours carries the UTC hour the attempt was verified in.
type OffHours struct{ Hour int }

func (DuplicateIdentity) signal() {}
func (OriginVelocity) signal()    {}
func (IdentityVelocity) signal()  {}
func (AnonymizingProxy) signal()  {}
func (GeoMismatch) signal()       {}
func (ExcessResends) signal()     {}
func (OffHours) signal()          {}

// Reason codes reported to operators.
const (
	ReasonDuplicate        = "duplicate_identity"
	ReasonOriginVelocity   = "origin_velocity"
	ReasonIdentityVelocity = "identity_velocity"
	ReasonProxy            = "anonymizing_proxy"
	ReasonGeoMismatch      = "geo_mismatch"
	ReasonResends          = "excess_resends"
	ReasonOffHours         = "off_hours"
)

// Policy holds the band floors and the weights. Zero weights disable a
// contribution; zero Bands means DefaultBands.
type Policy struct {
	Bands Bands `yaml:"bands"`

	// SpareDuplicateOrigins exempts critical results caused by a duplicate
	// identity from the origin block. Off by default: every critical
	// result blocks.
	SpareDuplicateOrigins bool `yaml:"spare_duplicate_origins"`

	DuplicateFloor int `yaml:"duplicate_floor"`

	OriginFreeAttempts int `yaml:"origin_free_attempts"`
	OriginPerAttempt   int `yaml:"origin_per_attempt"`
	OriginCap          int `yaml:"origin_cap"`

	IdentityPerRepeat int `yaml:"identity_per_repeat"`
	IdentityCap       int `yaml:"identity_cap"`

	Proxy       int `yaml:"proxy"`
	GeoMismatch int `yaml:"geo_mismatch"`

	ResendThreshold int `yaml:"resend_threshold"`
	ResendPerExtra  int `yaml:"resend_per_extra"`
	ResendCap       int `yaml:"resend_cap"`

	OffHoursStart  int `yaml:"off_hours_start"` // inclusive, UTC hour
	OffHoursEnd    int `yaml:"off_hours_end"`   // exclusive, UTC hour
	OffHoursWeight int `yaml:"off_hours_weight"`
}

// DefaultPolicy returns the documented production weights.
func DefaultPolicy() Policy {
	return Policy{
		Bands:              DefaultBands(),
		DuplicateFloor:     90,
		OriginFreeAttempts: 2,
		OriginPerAttempt:   10,
		OriginCap:          40,
		IdentityPerRepeat:  5,
		IdentityCap:        20,
		Proxy:              25,
		GeoMismatch:        20,
		ResendThreshold:    3,
		ResendPerExtra:     5,
		ResendCap:          10,
		OffHoursStart:      2,
		OffHoursEnd:        5,
		OffHoursWeight:     5,
	}
}

// Result is the verdict for one attempt.
type Result struct {
	Score     int
	Band      models.Band
	Reasons   []string
	Duplicate bool
	// BlockOrigin is set for critical results the policy blocks the origin for.
	BlockOrigin bool
}

// Allows reports whether the attempt may commit.
func (r Result) Allows() bool {
	return r.Band == models.BandLow || r.Band == models.BandMedium
}

// Flagged reports whether a committed vote should be marked for review.
func (r Result) Flagged() bool {
	return r.Band == models.BandMedium
}

// Score accumulates the weighted contribution of every signal.
func Score(p Policy, signals []Signal) Result {
	var res Result
	total := 0

	for _, s := range signals {
		switch s := s.(type) {
		case DuplicateIdentity:
			res.Duplicate = true
			res.Reasons = append(res.Reasons, ReasonDuplicate)

		case OriginVelocity:
			if extra := s.Count - p.OriginFreeAttempts; extra > 0 && p.OriginPerAttempt > 0 {
				total += capped(extra*p.OriginPerAttempt, p.OriginCap)
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s:%d", ReasonOriginVelocity, s.Count))
			}

		case IdentityVelocity:
			if repeats := s.Count - 1; repeats > 0 && p.IdentityPerRepeat > 0 {
				total += capped(repeats*p.IdentityPerRepeat, p.IdentityCap)
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s:%d", ReasonIdentityVelocity, s.Count))
			}

		case AnonymizingProxy:
			if p.Proxy > 0 {
				total += p.Proxy
				res.Reasons = append(res.Reasons, ReasonProxy)
			}

		case GeoMismatch:
			if p.GeoMismatch > 0 {
				total += p.GeoMismatch
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s:%s/%s", ReasonGeoMismatch, s.Claimed, s.Observed))
			}

		case ExcessResends:
			if extra := s.Count - p.ResendThreshold; extra > 0 && p.ResendPerExtra > 0 {
				total += capped(extra*p.ResendPerExtra, p.ResendCap)
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s:%d", ReasonResends, s.Count))
			}

		case OffHours:
			if p.OffHoursWeight > 0 && inWindow(s.Hour, p.OffHoursStart, p.OffHoursEnd) {
				total += p.OffHoursWeight
				res.Reasons = append(res.Reasons, ReasonOffHours)
			}
		}
	}

	// A duplicate dominates: every other contribution only adds on top.
	if res.Duplicate {
		total += p.DuplicateFloor
	}

	res.Score = clamp(total)
	bands := p.Bands
	if bands == (Bands{}) {
		bands = DefaultBands()
	}
	res.Band = bands.Classify(res.Score)
	res.BlockOrigin = res.Band == models.BandCritical && !(res.Duplicate && p.SpareDuplicateOrigins)
	return res
}

// Observation is the raw material for the signal list.
type Observation struct {
	HasCommittedVote bool
	OriginAttempts   int
	IdentityAttempts int
	ReputationKnown  bool
	IsProxy          bool
	ClaimedCountry   string
	GeoCountry       string
	ResendCount      int
	HourUTC          int
}

// Collect turns an observation into signals. Unknown reputation yields no
// proxy or geo signal rather than a penalty.
func Collect(o Observation) []Signal {
	var signals []Signal
	if o.HasCommittedVote {
		signals = append(signals, DuplicateIdentity{})
	}
	if o.OriginAttempts > 0 {
		signals = append(signals, OriginVelocity{Count: o.OriginAttempts})
	}
	if o.IdentityAttempts > 0 {
		signals = append(signals, IdentityVelocity{Count: o.IdentityAttempts})
	}
	if o.ReputationKnown {
		if o.IsProxy {
			signals = append(signals, AnonymizingProxy{})
		}
		claimed := strings.ToUpper(strings.TrimSpace(o.ClaimedCountry))
		observed := strings.ToUpper(strings.TrimSpace(o.GeoCountry))
		if observed != "" && claimed != observed {
			signals = append(signals, GeoMismatch{Claimed: claimed, Observed: observed})
		}
	}
	if o.ResendCount > 0 {
		signals = append(signals, ExcessResends{Count: o.ResendCount})
	}
	signals = append(signals, OffHours{Hour: o.HourUTC})
	return signals
}

func capped(v, limit int) int {
	if limit > 0 && v > limit {
		return limit
	}
	return v
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// inWindow handles windows that wrap midnight (start > end).
func inWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
