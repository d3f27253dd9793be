package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithms lists every supported signing algorithm.
var Algorithms = []string{
	"HS256", "HS384", "HS512",
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// SupportedAlgorithm reports whether alg can sign and verify tokens.
func SupportedAlgorithm(alg string) bool {
	return slices.Contains(Algorithms, alg)
}

// Symmetric reports whether alg uses a shared secret.
func Symmetric(alg string) bool {
	return strings.HasPrefix(alg, "HS")
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	if !SupportedAlgorithm(alg) {
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
	m := jwt.GetSigningMethod(alg)
	if m == nil {
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
	return m, nil
}

// signingKey parses the private key material for alg. HMAC keys are the raw
// secret; all other algorithms take a PEM-encoded private key.
func signingKey(alg, key string) (any, error) {
	if key == "" {
		return nil, fmt.Errorf("missing signing key")
	}
	pem := []byte(key)
	switch {
	case Symmetric(alg):
		return pem, nil
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return jwt.ParseRSAPrivateKeyFromPEM(pem)
	case strings.HasPrefix(alg, "ES"):
		return jwt.ParseECPrivateKeyFromPEM(pem)
	case alg == "EdDSA":
		return jwt.ParseEdPrivateKeyFromPEM(pem)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}

// verificationKey parses the public key material for alg.
func verificationKey(alg, key string) (any, error) {
	if key == "" {
		return nil, fmt.Errorf("missing verification key")
	}
	pem := []byte(key)
	switch {
	case Symmetric(alg):
		return pem, nil
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return jwt.ParseRSAPublicKeyFromPEM(pem)
	case strings.HasPrefix(alg, "ES"):
		return jwt.ParseECPublicKeyFromPEM(pem)
	case alg == "EdDSA":
		return jwt.ParseEdPublicKeyFromPEM(pem)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}
