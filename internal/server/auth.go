package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scorepulse/scorepulse/internal/domain"
)

// JWTVerifier validates HMAC-SHA256 bearer tokens. Token issuance lives
// with the upstream identity service; this side only verifies.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, checking the signing algorithm to
// rule out algorithm confusion, plus expiry and not-before. Every failure
// collapses to ErrInvalidToken so callers cannot leak why a token was bad.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (domain.Identity, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{Subject: claims.Subject}, nil
}

// extractToken pulls the bearer token from the Authorization header, falling
// back to the "token" query parameter for WebSocket clients that cannot set
// headers (browsers).
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	return r.URL.Query().Get("token")
}
