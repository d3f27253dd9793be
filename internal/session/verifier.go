package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/accessd/internal/model"
)

// Leeway is the clock skew tolerated when checking exp, nbf and iat.
const Leeway = 10 * time.Second

// Verifier checks a token against an access method's verify configuration.
type Verifier interface {
	Verify(ctx context.Context, token string, cfg model.JWTVerify) (*Claims, error)
}

// JWKSFetcher loads the key set published at url.
type JWKSFetcher func(ctx context.Context, url string) (*keyfunc.JWKS, error)

// JWTVerifier verifies tokens signed with a static key or with a key from a
// JWKS endpoint. Key sets are fetched once per URL and refreshed in the
// background until Close.
type JWTVerifier struct {
	mu     sync.Mutex
	sets   map[string]*keyfunc.JWKS
	fetch  JWKSFetcher
	now    func() time.Time
	logger *slog.Logger
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithJWKSFetcher replaces the function used to load key sets.
func WithJWKSFetcher(f JWKSFetcher) VerifierOption {
	return func(v *JWTVerifier) { v.fetch = f }
}

// WithVerifierClock sets the time source validity windows are checked against.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// WithVerifierLogger sets the logger for background key set refresh errors.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *JWTVerifier) { v.logger = l }
}

// NewVerifier creates a JWTVerifier.
func NewVerifier(opts ...VerifierOption) *JWTVerifier {
	v := &JWTVerifier{
		sets:   make(map[string]*keyfunc.JWKS),
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	v.fetch = v.fetchRemote
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *JWTVerifier) fetchRemote(ctx context.Context, url string) (*keyfunc.JWKS, error) {
	return keyfunc.Get(url, keyfunc.Options{
		Ctx: context.WithoutCancel(ctx),
		RefreshErrorHandler: func(err error) {
			v.logger.Warn("jwks refresh failed", "url", url, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
}

// Verify parses token and checks its signature and validity window.
func (v *JWTVerifier) Verify(ctx context.Context, token string, cfg model.JWTVerify) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(Leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	var kf jwt.Keyfunc
	switch {
	case cfg.URL != "":
		set, err := v.keySet(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		kf = set.Keyfunc
		if cfg.Alg != "" {
			opts = append(opts, jwt.WithValidMethods([]string{cfg.Alg}))
		}
	case cfg.Key != "":
		if !SupportedAlgorithm(cfg.Alg) {
			return nil, fmt.Errorf("unsupported algorithm %q", cfg.Alg)
		}
		key, err := verificationKey(cfg.Alg, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("parse %s verification key: %w", cfg.Alg, err)
		}
		kf = func(*jwt.Token) (any, error) { return key, nil }
		opts = append(opts, jwt.WithValidMethods([]string{cfg.Alg}))
	default:
		return nil, errors.New("no verification key configured")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, kf, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("verify token: invalid")
	}
	return claims, nil
}

func (v *JWTVerifier) keySet(ctx context.Context, url string) (*keyfunc.JWKS, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if set, ok := v.sets[url]; ok {
		return set, nil
	}
	set, err := v.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks %s: %w", url, err)
	}
	v.sets[url] = set
	return set, nil
}

// Close stops background refresh of every cached key set.
func (v *JWTVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for url, set := range v.sets {
		set.EndBackground()
		delete(v.sets, url)
	}
}

// Peek decodes the claims of token without verifying its signature. The
// result only routes the token to the key that verifies it.
func Peek(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return claims, nil
}
