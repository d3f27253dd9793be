package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/faucetdb/accessd/internal/model"
)

// DefaultDuration is the session lifetime when neither the access method
// nor the user sets one.
const DefaultDuration = time.Hour

// DefaultIssuer is the iss claim when none is configured.
const DefaultIssuer = "accessd"

// BuildRequest describes the session to mint.
type BuildRequest struct {
	Subject  string
	Level    model.Level
	Access   string
	Roles    []model.Role
	Duration time.Duration
	Key      model.JWTIssue
}

// Builder mints signed session tokens.
type Builder struct {
	signer Signer
	issuer string
	now    func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithIssuer sets the iss claim.
func WithIssuer(iss string) BuilderOption {
	return func(b *Builder) {
		if iss != "" {
			b.issuer = iss
		}
	}
}

// WithClock sets the time source for iat, nbf and exp.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder signing with signer.
func NewBuilder(signer Signer, opts ...BuilderOption) *Builder {
	b := &Builder{signer: signer, issuer: DefaultIssuer, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build signs a fresh token for req. A signing failure wraps model.ErrFatal.
func (b *Builder) Build(req BuildRequest) (model.SigninResult, error) {
	now := b.now().UTC().Truncate(time.Second)
	d := req.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	exp := now.Add(d)

	claims := &Claims{
		NS:       req.Level.Namespace,
		DB:       req.Level.Database,
		AC:       req.Access,
		Identity: req.Subject,
		Roles:    model.RoleNames(req.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token, err := b.signer.Sign(claims, req.Key)
	if err != nil {
		return model.SigninResult{}, fmt.Errorf("%w: sign session: %w", model.ErrFatal, err)
	}
	return model.SigninResult{Token: token, Session: claims.Session()}, nil
}
