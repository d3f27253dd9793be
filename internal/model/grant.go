package model

import (
	"fmt"
	"time"
)

// SubjectKind is the kind of identity a bearer grant stands for.
type SubjectKind string

const (
	SubjectUser   SubjectKind = "user"
	SubjectRecord SubjectKind = "record"
)

// ParseSubjectKind accepts "user" or "record".
func ParseSubjectKind(s string) (SubjectKind, error) {
	switch SubjectKind(s) {
	case SubjectUser, SubjectRecord:
		return SubjectKind(s), nil
	default:
		return "", fmt.Errorf("unknown subject kind %q (want user or record)", s)
	}
}

// Subject is the identity a grant authenticates as. User subjects carry
// both the name and the stable ID of the user at issuance.
type Subject struct {
	Kind   SubjectKind `json:"kind"`
	User   string      `json:"user,omitempty"`
	UserID string      `json:"user_id,omitempty"`
	Record RecordID    `json:"record,omitempty"`
}

// UserSubject returns a subject for the named system user.
func UserSubject(name string) Subject { return Subject{Kind: SubjectUser, User: name} }

// RecordSubject returns a subject for an application record.
func RecordSubject(id RecordID) Subject { return Subject{Kind: SubjectRecord, Record: id} }

func (s Subject) String() string {
	if s.Kind == SubjectRecord {
		return s.Record.String()
	}
	return s.User
}

// GrantType distinguishes plain bearer grants from refresh tokens.
type GrantType string

const (
	GrantBearer  GrantType = "bearer"
	GrantRefresh GrantType = "refresh"
)

// Grant is one issued bearer credential. The plaintext key is never
// persisted; only its SHA-256 hash is.
type Grant struct {
	ID         string     `json:"id"`
	AccessName string     `json:"access"`
	AccessID   string     `json:"-"`
	Level      Level      `json:"level"`
	Type       GrantType  `json:"type"`
	KeyHash    string     `json:"-"` // SHA-256 hex, never expose
	Subject    Subject    `json:"subject"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the grant has been revoked.
func (g *Grant) Revoked() bool { return g.RevokedAt != nil }

// Expired reports whether the grant has an expiration at or before now.
func (g *Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Valid reports whether the grant can still be used at now.
func (g *Grant) Valid(now time.Time) bool {
	return !g.Revoked() && !g.Expired(now)
}
