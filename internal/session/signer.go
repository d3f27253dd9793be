package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/accessd/internal/model"
)

// Signer signs session claims with an access method's issue key.
type Signer interface {
	Sign(claims *Claims, key model.JWTIssue) (string, error)
}

// JWTSigner signs tokens with golang-jwt.
type JWTSigner struct{}

// Sign serializes and signs claims.
func (JWTSigner) Sign(claims *Claims, key model.JWTIssue) (string, error) {
	method, err := signingMethod(key.Alg)
	if err != nil {
		return "", err
	}
	k, err := signingKey(key.Alg, key.Key)
	if err != nil {
		return "", fmt.Errorf("parse %s signing key: %w", key.Alg, err)
	}
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString(k)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
