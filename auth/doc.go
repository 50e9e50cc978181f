// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package auth provides code generation, hashing and operator tokens.

# Key Derivation

A single pipeline secret is expanded with HKDF-SHA256 into independent
HMAC keys:

	keys, err := auth.DeriveKeys(secret)
	// keys.Code, keys.Fingerprint, keys.IP

# One-Time Codes

Codes are six uniformly random digits. Only the HMAC of (attempt id, code)
is ever stored, and comparison is constant time:

	code, err := auth.GenerateCode()
	hash := auth.HashCode(keys.Code, attemptID, code)
	ok := auth.CodeMatches(keys.Code, attemptID, submitted, hash)

# Identity Fingerprints

Duplicate detection keys on a salted hash of the normalised name, date of
birth, channel and address. Names are accent- and case-folded:

	fp := auth.Fingerprint(keys.Fingerprint, name, dob, "phone", address)

# IP Hashing

For privacy-preserving velocity counting:

	hash := auth.HashIP(ipAddress, keys.IP)

Returns first 8 bytes (16 hex chars) of HMAC-SHA256.

# Operator Tokens

Fraud-review endpoints accept HS256 JWTs carrying role=operator:

	token, err := auth.IssueOperatorToken(secret, "reviewer", time.Hour, time.Now())
	operator, err := auth.ParseOperatorToken(secret, token)
*/
package auth
