package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims represents the typed JWT presented by clients. The subject
// carries the identity provider's user id.
type SessionClaims struct {
	Plan string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

func (c *SessionClaims) UserID() string {
	return c.Subject
}
