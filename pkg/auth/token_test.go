package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte(strings.Repeat("s", 32))

func TestMintAndVerify(t *testing.T) {
	token, err := MintToken(testSecret, "galactica-bot", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := VerifyToken(testSecret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != Subject {
		t.Fatalf("expected subject %q, got %q", Subject, claims.Subject)
	}
	if claims.BotID != "galactica-bot" {
		t.Fatalf("expected bot_id claim, got %q", claims.BotID)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatalf("expected iat and exp claims")
	}
	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != time.Hour {
		t.Fatalf("expected 1h lifetime, got %v", lifetime)
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := MintToken([]byte("too-short"), "", 0); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestWrongSecretFails(t *testing.T) {
	token, err := MintToken(testSecret, "", 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	other := []byte(strings.Repeat("x", 32))
	if _, err := VerifyToken(other, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestExpiredTokenFails(t *testing.T) {
	token, err := MintToken(testSecret, "", -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := VerifyToken(testSecret, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestMalformedTokenFails(t *testing.T) {
	if _, err := VerifyToken(testSecret, "not.a.token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
