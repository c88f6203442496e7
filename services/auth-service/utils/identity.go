package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the assertion an identity broker hands back after a
// federated sign-in. It is HS256-signed with the shared federation secret.
type IdentityClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// ParseIdentityToken verifies a broker assertion. Expiry and subject are
// mandatory.
func ParseIdentityToken(secret []byte, raw string) (*IdentityClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("federation secret is not configured")
	}

	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid identity token: %w", err)
	}

	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Subject == "" || claims.Email == "" {
		return nil, errors.New("identity token lacks subject or email")
	}
	return claims, nil
}
