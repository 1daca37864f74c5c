package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{SessionID: "s1", ParticipantID: "p1", IsHost: true}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.ParticipantID != "p1" || claims.SessionID != "s1" || !claims.IsHost {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Subject != "p1" {
		t.Fatalf("expected subject p1, got %q", claims.Subject)
	}
	if err := claims.ForSession("s1"); err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if err := claims.ForSession("s2"); !errors.Is(err, ErrWrongSession) {
		t.Fatalf("expected ErrWrongSession, got %v", err)
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		SessionID:     "s1",
		ParticipantID: "p1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "p1",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpiredAndForeignSecret(t *testing.T) {
	secret := []byte("test-secret")
	expired, err := Issue(secret, Claims{SessionID: "s1", ParticipantID: "p1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	valid, err := Issue(secret, Claims{SessionID: "s1", ParticipantID: "p1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse([]byte("other"), valid); err == nil {
		t.Fatal("expected token signed with another key to be rejected")
	}
}

func TestParse_RequiresParticipant(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{SessionID: "s1"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected token without participant to be rejected")
	}
}
