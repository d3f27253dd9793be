// Package password verifies stored password hashes. bcrypt and argon2id
// (PHC string format) hashes are accepted; new hashes are bcrypt.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a plaintext password against a stored hash.
type Verifier interface {
	Verify(hash, plain string) bool
}

// Hasher verifies bcrypt and argon2id hashes and produces bcrypt hashes at
// Cost.
type Hasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     string
}

// Default uses bcrypt.DefaultCost.
var Default = &Hasher{Cost: bcrypt.DefaultCost}

// NewHasher returns a Hasher producing bcrypt hashes at cost. Costs outside
// bcrypt's range fall back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("password is empty")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost())
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether plain matches hash. Unknown or malformed hashes
// never match.
func (h *Hasher) Verify(hash, plain string) bool {
	switch {
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	case strings.HasPrefix(hash, "$argon2id$"):
		return verifyArgon2id(hash, plain)
	default:
		return false
	}
}

// Dummy returns a fixed hash of a random password. Verifying against it
// costs the same as verifying a real bcrypt hash at this cost, which keeps
// unknown-user signins as slow as wrong-password ones.
func (h *Hasher) Dummy() string {
	h.dummyOnce.Do(func() {
		buf := make([]byte, 16)
		rand.Read(buf)
		out, err := bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(buf)), h.cost())
		if err == nil {
			h.dummy = string(out)
		}
	})
	return h.dummy
}

func (h *Hasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

// Argon2 parameters used by HashArgon2id.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// Limits on the parameters a stored argon2id hash may ask for.
const (
	maxArgonMemory     = 256 * 1024
	maxArgonIterations = 16
	maxArgonKeyLength  = 128
)

// HashArgon2id returns an argon2id hash of plain in PHC string format.
func HashArgon2id(plain string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(plain), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyArgon2id checks "$argon2id$v=19$m=...,t=...,p=...$salt$key".
func verifyArgon2id(hash, plain string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	if iterations < 1 || iterations > maxArgonIterations || parallelism < 1 || memory > maxArgonMemory {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > maxArgonKeyLength {
		return false
	}
	got := argon2.IDKey([]byte(plain), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
