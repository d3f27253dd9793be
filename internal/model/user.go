package model

import "time"

// User is a system user defined at root, namespace or database level.
// Passwords are stored as bcrypt or argon2id hashes.
type User struct {
	// ID is assigned when the user is defined. Recreating a user with the
	// same name yields a new ID, which invalidates grants bound to the old one.
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Level           Level          `json:"level"`
	Hash            string         `json:"-"` // password hash, never expose
	Roles           []Role         `json:"roles"`
	SessionDuration *time.Duration `json:"session_duration,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
