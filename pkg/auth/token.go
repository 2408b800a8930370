// Package auth mints and verifies the short-lived bearer credentials used by
// the notification hubs.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid covers every verification failure: bad signature, expiry,
// malformed token or wrong claims.
var ErrTokenInvalid = errors.New("auth: invalid token")

const (
	// Subject is the fixed subject claim carried by every hub credential.
	Subject = "bot-client"

	// MinSecretLen is the minimum length of the shared signing secret.
	MinSecretLen = 32

	// DefaultLifetime is the credential lifetime when none is configured.
	DefaultLifetime = time.Hour
)

// Claims are the hub credential claims: fixed subject, issue time, expiry and
// an optional service identity.
type Claims struct {
	BotID string `json:"bot_id,omitempty"`
	jwt.RegisteredClaims
}

// ValidateSecret checks the shared symmetric secret meets the minimum length.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	return nil
}

// MintToken signs a new HS256 credential. botID is optional; a zero lifetime
// falls back to DefaultLifetime.
func MintToken(secret []byte, botID string, lifetime time.Duration) (string, error) {
	if err := ValidateSecret(secret); err != nil {
		return "", err
	}
	if lifetime == 0 {
		lifetime = DefaultLifetime
	}

	now := time.Now()
	claims := Claims{
		BotID: botID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates signature, expiry and subject, returning the claims.
// Any failure is reported as ErrTokenInvalid.
func VerifyToken(secret []byte, tokenString string) (*Claims, error) {
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Subject != Subject {
		return nil, fmt.Errorf("%w: unexpected subject %q", ErrTokenInvalid, claims.Subject)
	}
	return claims, nil
}
