// Package session builds, signs and verifies session tokens.
package session

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/accessd/internal/model"
)

// Claims are the claims of a session token. Registered claims carry the
// issuer, subject, validity window and token id.
type Claims struct {
	NS       string   `json:"NS,omitempty"`
	DB       string   `json:"DB,omitempty"`
	AC       string   `json:"AC,omitempty"`
	Identity string   `json:"ID,omitempty"`
	Roles    []string `json:"RL,omitempty"`
	jwt.RegisteredClaims
}

// Level returns the level the claims are bound to.
func (c *Claims) Level() model.Level {
	switch {
	case c.DB != "":
		return model.Database(c.NS, c.DB)
	case c.NS != "":
		return model.Namespace(c.NS)
	default:
		return model.Root()
	}
}

// Session converts the claims to their model form.
func (c *Claims) Session() model.SessionClaims {
	s := model.SessionClaims{
		Issuer:    c.Issuer,
		Subject:   c.Identity,
		Namespace: c.NS,
		Database:  c.DB,
		Access:    c.AC,
		TokenID:   c.ID,
	}
	if s.Subject == "" {
		s.Subject = c.Subject
	}
	for _, r := range c.Roles {
		s.Roles = append(s.Roles, model.Role(r))
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		exp := c.ExpiresAt.Time
		s.ExpiresAt = &exp
	}
	return s
}
