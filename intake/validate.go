// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package intake

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/auth"
	"github.com/lakayvote/intake/models"
)

const (
	maxNameLen   = 200
	maxRegionLen = 100
	maxAge       = 120
)

// details is a begin request that passed validation.
type details struct {
	CandidateID string
	Name        string
	DOB         time.Time
	Country     string
	Region      string
	Channel     models.Channel
	Address     string
}

func (m *Machine) validate(req models.BeginRequest, now time.Time) (details, error) {
	var d details

	d.CandidateID = strings.TrimSpace(req.CandidateID)
	if d.CandidateID == "" {
		return d, apperrors.Invalid("candidateId", "is required")
	}
	if len(m.candidates) > 0 && !m.candidates[d.CandidateID] {
		return d, apperrors.Invalid("candidateId", "unknown candidate")
	}

	d.Name = strings.Join(strings.Fields(req.Name), " ")
	if d.Name == "" {
		return d, apperrors.Invalid("name", "is required")
	}
	if utf8.RuneCountInString(d.Name) > maxNameLen {
		return d, apperrors.Invalid("name", "is too long")
	}
	if strings.IndexFunc(d.Name, unicode.IsLetter) < 0 {
		return d, apperrors.Invalid("name", "must contain letters")
	}

	dob, err := time.Parse("2006-01-02", strings.TrimSpace(req.DOB))
	if err != nil {
		return d, apperrors.Invalid("dob", "must be YYYY-MM-DD")
	}
	age := ageAt(dob, now)
	if age < m.cfg.MinAge || age > maxAge {
		return d, apperrors.Invalid("dob", "is not a plausible voter age")
	}
	d.DOB = dob

	d.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if !isCountryCode(d.Country) {
		return d, apperrors.Invalid("country", "must be a two-letter country code")
	}

	d.Region = strings.TrimSpace(req.Region)
	if d.Region == "" {
		return d, apperrors.Invalid("region", "is required")
	}
	if utf8.RuneCountInString(d.Region) > maxRegionLen || strings.Contains(d.Region, "*") {
		return d, apperrors.Invalid("region", "is not valid")
	}

	d.Channel = req.Channel
	switch d.Channel {
	case models.ChannelPhone:
		if !validPhone(req.Address) {
			return d, apperrors.Invalid("address", "is not a valid phone number")
		}
	case models.ChannelEmail:
		if !validEmail(req.Address) {
			return d, apperrors.Invalid("address", "is not a valid email address")
		}
	default:
		return d, apperrors.Invalid("channel", "must be phone or email")
	}
	d.Address = auth.NormalizeAddress(string(d.Channel), req.Address)

	return d, nil
}

// ageAt returns completed years.
func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func isCountryCode(s string) bool {
	return len(s) == 2 && s[0] >= 'A' && s[0] <= 'Z' && s[1] >= 'A' && s[1] <= 'Z'
}

// validPhone accepts international numbers written with spaces, dashes,
// dots or parentheses.
func validPhone(s string) bool {
	s = strings.TrimSpace(s)
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 8 && digits <= 15
}

// validEmail requires a bare address whose domain sits under a public
// suffix, so "user@localhost" and "user@co.uk" are refused.
func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	domain := strings.ToLower(s[at+1:])
	if _, icann := publicsuffix.PublicSuffix(domain); !icann {
		return false
	}
	_, err = publicsuffix.EffectiveTLDPlusOne(domain)
	return err == nil
}
