package model

import "time"

// SessionClaims describes an authenticated session as carried by its token.
type SessionClaims struct {
	Issuer    string     `json:"iss"`
	Subject   string     `json:"sub"`
	Namespace string     `json:"ns,omitempty"`
	Database  string     `json:"db,omitempty"`
	Access    string     `json:"ac,omitempty"`
	Roles     []Role     `json:"roles,omitempty"`
	IssuedAt  time.Time  `json:"iat"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
	TokenID   string     `json:"jti"`
}

// Level returns the level the session is bound to.
func (c SessionClaims) Level() Level {
	switch {
	case c.Database != "":
		return Database(c.Namespace, c.Database)
	case c.Namespace != "":
		return Namespace(c.Namespace)
	default:
		return Root()
	}
}

// SigninResult is returned by a successful signin or signup.
type SigninResult struct {
	Token string `json:"token"`
	// Refresh is set only for record access methods with refresh enabled.
	Refresh string        `json:"refresh,omitempty"`
	Session SessionClaims `json:"session"`
}

// Credentials is the closed set of signin inputs: Password for system users
// and Params for access method signins.
type Credentials interface {
	isCredentials()
}

// Password authenticates a system user by name and password.
type Password struct {
	User string
	Pass string
}

// Params are the variables of an access method signin. A bearer key is passed
// under "key" and a refresh token under "refresh"; the remaining entries are
// handed to record logic.
type Params map[string]any

func (Password) isCredentials() {}
func (Params) isCredentials()   {}

// String returns the named parameter when it is a non-empty string.
func (p Params) String(name string) (string, bool) {
	v, ok := p[name].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// BearerKey is the parsed form of a bearer or refresh key. It only exists
// while a key is being checked.
type BearerKey struct {
	Prefix string
	ID     string
	Secret string
}
