// Package server validates admin broadcast tokens. Tokens are HS256
// JWTs signed with the server's CHAT_ADMIN_SECRET and scoped to the
// "admin" audience; with no secret configured, nothing verifies.
package server

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminAudience = "admin"

// SignAdminToken mints an admin token for operators. Exposed so a
// deployment can generate tokens out of band with the same secret.
func SignAdminToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{adminAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// verifyAdminToken reports whether token is a valid admin grant under
// the configured secret. An empty secret disables admin access rather
// than leaving it open.
func verifyAdminToken(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(adminAudience),
	)
	return err == nil && parsed.Valid
}
