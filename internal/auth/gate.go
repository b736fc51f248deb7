// Package auth validates caller identity for every request.
//
// The gate is pure: it parses and verifies the bearer token, extracts the
// user id claim and requires agreement with the user id in the request path.
// It never touches storage, so a rejected request leaves no trace.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nwilkes/taskpilot/internal/apperr"
)

// Gate verifies bearer tokens signed with a shared HMAC secret. Token
// issuance lives elsewhere; only validation happens here.
type Gate struct {
	secret []byte
	now    func() time.Time
}

// NewGate creates a gate for the given signing secret.
func NewGate(secret []byte) *Gate {
	return &Gate{secret: secret, now: time.Now}
}

// Identity is the validated caller extracted from a token.
type Identity struct {
	UserID   string
	IssuedAt time.Time
}

// Authenticate verifies the Authorization header value and returns the
// caller identity. Any parse, signature or expiry failure yields
// authentication_required; the caller cannot distinguish why.
func (g *Gate) Authenticate(authorization string) (Identity, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return Identity{}, apperr.New(apperr.CodeAuthRequired, "missing bearer token")
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(g.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Identity{}, apperr.Wrap(apperr.CodeAuthRequired, "invalid or expired token", err)
	}

	if claims.Subject == "" {
		return Identity{}, apperr.New(apperr.CodeAuthRequired, "token has no subject claim")
	}

	id := Identity{UserID: claims.Subject}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}

// Authorize requires the authenticated user to match the user id in the
// request path. A mismatch is unauthorized_access (403), never 404: the
// response must not reveal whether the path's resources exist.
func (g *Gate) Authorize(id Identity, pathUserID string) error {
	if pathUserID == "" {
		return apperr.New(apperr.CodeInvalidParameter, "missing user id in path")
	}
	if id.UserID != pathUserID {
		return apperr.New(apperr.CodeUnauthorized, "cannot access another user's resources")
	}
	return nil
}
