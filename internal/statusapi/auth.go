package statusapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Bearer-token auth for the status API. Tokens are HS256 JWTs signed
// with the shared secret from the config; operators mint them with the
// `meshbridge token` subcommand.

// Claims are the token claims accepted by the status API.
type Claims struct {
	Subject string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuth creates and validates status API tokens.
type TokenAuth struct {
	secretKey []byte
}

// NewTokenAuth creates an authenticator for the given shared secret.
func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{secretKey: []byte(secret)}
}

// GenerateToken mints a token for subject, valid for ttl.
func (a *TokenAuth) GenerateToken(subject string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("subject cannot be empty")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token (with or without a "Bearer " prefix)
// and returns its claims.
func (a *TokenAuth) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
