// Package auth issues and checks the bearer tokens that identify a customer.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "customer-ledger"

// Claims is the identity carried by a valid token. The username is what the
// ledger resolves to a customer.
type Claims struct {
	Username  string
	ExpiresAt time.Time
}

func GenerateToken(username string, secret string, expiry time.Duration) (string, error) {
	if username == "" {
		return "", fmt.Errorf("GenerateToken: empty username")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	rc, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateToken: invalid token claims")
	}
	if rc.Subject == "" {
		return nil, fmt.Errorf("ValidateToken: missing subject")
	}

	return &Claims{
		Username:  rc.Subject,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}
