// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint derives the non-reversible identity key used for duplicate
// detection. Inputs are normalised first so "Jean-Pierre  Louis" and
// "jean-pierre louis" collide.
func Fingerprint(key []byte, name string, dob time.Time, channel, address string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(NormalizeName(name)))
	h.Write([]byte{0})
	h.Write([]byte(dob.UTC().Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeAddress(channel, address)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeName folds case and accents and collapses whitespace
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// NormalizeAddress lowercases email addresses and reduces phone numbers to
// a leading '+' and digits.
func NormalizeAddress(channel, address string) string {
	address = strings.TrimSpace(address)
	if channel != "phone" {
		return strings.ToLower(address)
	}

	var b strings.Builder
	for i, r := range address {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}
