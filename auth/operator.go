// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleOperator = "operator"

var ErrInvalidToken = errors.New("invalid operator token")

// OperatorClaims identify a fraud-review operator.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueOperatorToken signs an HS256 token for the named operator
func IssueOperatorToken(secret, operator string, ttl time.Duration, now time.Time) (string, error) {
	claims := OperatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign operator token: %w", err)
	}
	return token, nil
}

// ParseOperatorToken validates the signature, expiry and role and returns
// the operator name.
func ParseOperatorToken(secret, tokenString string) (string, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Role != RoleOperator || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
