// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const CodeDigits = 6

var (
	ErrEmptySecret = errors.New("pipeline secret must not be empty")
	ErrInvalidCode = errors.New("invalid code format")
)

// Keys are independent subkeys derived from the pipeline secret so that a
// leak of one hash family does not help with another.
type Keys struct {
	Code        []byte
	Fingerprint []byte
	IP          []byte
}

// DeriveKeys expands secret into the per-purpose HMAC keys with HKDF-SHA256
func DeriveKeys(secret string) (Keys, error) {
	if secret == "" {
		return Keys{}, ErrEmptySecret
	}

	derive := func(info string) ([]byte, error) {
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
		key := make([]byte, 32)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("failed to derive %s key: %w", info, err)
		}
		return key, nil
	}

	var keys Keys
	var err error
	if keys.Code, err = derive("intake/code"); err != nil {
		return Keys{}, err
	}
	if keys.Fingerprint, err = derive("intake/fingerprint"); err != nil {
		return Keys{}, err
	}
	if keys.IP, err = derive("intake/ip"); err != nil {
		return Keys{}, err
	}
	return keys, nil
}

// GenerateCode returns a uniformly random numeric one-time code
func GenerateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// ValidCodeFormat reports whether code is exactly six ASCII digits
func ValidCodeFormat(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// HashCode binds a code to its attempt. The attempt id acts as the salt, so
// identical codes on different attempts never share a hash.
func HashCode(key []byte, attemptID, code string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(attemptID))
	h.Write([]byte{0})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

// CodeMatches compares a submitted code against the stored hash in constant time
func CodeMatches(key []byte, attemptID, code, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	want, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(HashCode(key, attemptID, code))
	return hmac.Equal(got, want)
}

// HashIP creates a one-way hash of an IP address for privacy
// Includes a key to prevent rainbow table attacks
func HashIP(ip string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(ip))
	sum := h.Sum(nil)
	// First 16 hex chars (64 bits) - enough for velocity counting
	return hex.EncodeToString(sum[:8])
}
