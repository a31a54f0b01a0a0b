/*
Package auth validates session credentials and resolves caller identity.

PURPOSE:
  The engine trusts an external identity provider; this package is the
  narrow boundary to it. Given an opaque bearer credential it returns
  {id, state, role, status} or a not-authenticated signal. No credential
  issuance happens here.

TOKENS:
  HMAC-signed JWTs (HS256) carrying the user's state, role, and account
  status as private claims. Expiry and signature checks come from the
  jwt library; this package adds the account-status gate.

SEE ALSO:
  - middleware.go: request middleware that puts Identity in context
*/
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned for any credential that does not resolve
// to an active identity. Callers get no further detail.
var ErrNotAuthenticated = errors.New("not authenticated")

// Identity is the resolved caller: who they are, which state they act for,
// and what they may do. The engine trusts this and never re-validates.
type Identity struct {
	ID     string
	State  string
	Role   string
	Status string
}

// IsAdmin reports whether the identity may use the admin surface.
func (i *Identity) IsAdmin() bool {
	return i.Role == "admin"
}

type sessionClaims struct {
	State  string `json:"state"`
	Role   string `json:"role"`
	Status string `json:"status"`
	jwt.RegisteredClaims
}

// Verifier validates session tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Validate parses and verifies a bearer token. Inactive accounts fail even
// with a valid signature.
func (v *Verifier) Validate(token string) (*Identity, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrNotAuthenticated
	}
	if claims.Status != "active" {
		return nil, ErrNotAuthenticated
	}
	return &Identity{
		ID:     claims.Subject,
		State:  claims.State,
		Role:   claims.Role,
		Status: claims.Status,
	}, nil
}
