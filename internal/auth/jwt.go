/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrWrongSession is returned when a token is used outside its session.
var ErrWrongSession = errors.New("token issued for another session")

// Claims identify a participant within one session.
type Claims struct {
	SessionID     string `json:"sid"`
	ParticipantID string `json:"pid"`
	IsHost        bool   `json:"host,omitempty"`
	jwt.RegisteredClaims
}

// ForSession reports an error unless the claims belong to sessionID.
func (c *Claims) ForSession(sessionID string) error {
	if c == nil || c.SessionID != sessionID {
		return ErrWrongSession
	}
	return nil
}

// Issue creates a signed participant token.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   claims.ParticipantID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates a token string. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" || claims.ParticipantID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
