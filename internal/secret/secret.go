// Package secret formats, parses and hashes bearer and refresh keys.
//
// A key has the shape <prefix>-<id>-<secret> where id is 12 and secret 24
// alphanumeric characters. Only the SHA-256 of the full key is stored.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/faucetdb/accessd/internal/model"
)

// Key prefixes.
const (
	PrefixBearer  = "surreal-bearer"
	PrefixRefresh = "surreal-refresh"
)

// Segment lengths.
const (
	IDLength     = 12
	SecretLength = 24
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxByte is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are discarded so every character is equally likely.
const maxByte = 256 - (256 % len(alphabet))

// Prefix returns the key prefix for a grant type.
func Prefix(typ model.GrantType) string {
	if typ == model.GrantRefresh {
		return PrefixRefresh
	}
	return PrefixBearer
}

// Generate returns a new key of the given type and its public identifier,
// reading randomness from crypto/rand.
func Generate(typ model.GrantType) (key, id string, err error) {
	return GenerateFrom(rand.Reader, typ)
}

// GenerateFrom is Generate with an explicit random source.
func GenerateFrom(r io.Reader, typ model.GrantType) (key, id string, err error) {
	id, err = randomString(r, IDLength)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}
	sec, err := randomString(r, SecretLength)
	if err != nil {
		return "", "", fmt.Errorf("generate key secret: %w", err)
	}
	return Prefix(typ) + "-" + id + "-" + sec, id, nil
}

func randomString(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// Hash returns the lowercase hex SHA-256 of the full key.
func Hash(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// Equal compares two hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Parse checks the structure of raw. Every structural failure returns
// model.ErrAccessGrantBearerInvalid.
func Parse(raw string) (model.BearerKey, error) {
	var prefix string
	switch {
	case strings.HasPrefix(raw, PrefixBearer+"-"):
		prefix = PrefixBearer
	case strings.HasPrefix(raw, PrefixRefresh+"-"):
		prefix = PrefixRefresh
	default:
		return model.BearerKey{}, model.ErrAccessGrantBearerInvalid
	}
	rest := raw[len(prefix)+1:]
	if len(rest) != IDLength+1+SecretLength || rest[IDLength] != '-' {
		return model.BearerKey{}, model.ErrAccessGrantBearerInvalid
	}
	id, sec := rest[:IDLength], rest[IDLength+1:]
	if !alnum(id) || !alnum(sec) {
		return model.BearerKey{}, model.ErrAccessGrantBearerInvalid
	}
	return model.BearerKey{Prefix: prefix, ID: id, Secret: sec}, nil
}

// Type returns the grant type a parsed key was issued as.
func Type(k model.BearerKey) model.GrantType {
	if k.Prefix == PrefixRefresh {
		return model.GrantRefresh
	}
	return model.GrantBearer
}

func alnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}
