// Package service is the authentication boundary: signin, signup, token
// authentication and bearer grant administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/faucetdb/accessd/internal/access"
	"github.com/faucetdb/accessd/internal/grant"
	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/logic"
	"github.com/faucetdb/accessd/internal/metrics"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/password"
	"github.com/faucetdb/accessd/internal/session"
	"github.com/faucetdb/accessd/internal/store"
)

// SystemAlg signs sessions of system users.
const SystemAlg = "HS512"

// AuthService authenticates principals and mints their sessions. Every
// method runs inside the caller's transaction and never commits it.
type AuthService struct {
	access    *access.Registry
	logic     *logic.Registry
	grants    *grant.Manager
	passwords logic.Passwords
	signer    session.Signer
	verifier  session.Verifier
	builder   *session.Builder
	systemKey model.JWTIssue
	issuer    string
	duration  time.Duration
	random    io.Reader
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithLogger sets the logger internal failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

// WithClock sets the time source for sessions and grants.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithLogic sets the registry record access logic is resolved against.
func WithLogic(l *logic.Registry) Option {
	return func(s *AuthService) { s.logic = l }
}

// WithPasswords sets how user and record passwords are hashed and verified.
func WithPasswords(p logic.Passwords) Option {
	return func(s *AuthService) { s.passwords = p }
}

// WithSigner sets the session token signer.
func WithSigner(signer session.Signer) Option {
	return func(s *AuthService) { s.signer = signer }
}

// WithVerifier sets the session token verifier.
func WithVerifier(v session.Verifier) Option {
	return func(s *AuthService) { s.verifier = v }
}

// WithIssuer sets the iss claim of minted sessions.
func WithIssuer(iss string) Option {
	return func(s *AuthService) { s.issuer = iss }
}

// WithSessionDuration sets the session lifetime used when neither the user
// nor the access method configures one.
func WithSessionDuration(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.duration = d
		}
	}
}

// WithRandom sets the source grant keys are generated from.
func WithRandom(r io.Reader) Option {
	return func(s *AuthService) { s.random = r }
}

// WithMetrics sets the counters signins and grants are recorded in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

// NewAuthService creates an AuthService resolving access methods through reg.
// System user sessions are signed with jwtSecret.
func NewAuthService(reg *access.Registry, jwtSecret string, opts ...Option) *AuthService {
	s := &AuthService{
		access:    reg,
		systemKey: model.JWTIssue{Alg: SystemAlg, Key: jwtSecret},
		duration:  session.DefaultDuration,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logic == nil {
		s.logic = logic.NewRegistry()
	}
	if s.passwords == nil {
		s.passwords = password.Default
	}
	if s.signer == nil {
		s.signer = session.JWTSigner{}
	}
	if s.verifier == nil {
		s.verifier = session.NewVerifier(session.WithVerifierClock(s.now), session.WithVerifierLogger(s.logger))
	}
	grantOpts := []grant.Option{grant.WithClock(s.now)}
	if s.random != nil {
		grantOpts = append(grantOpts, grant.WithRandom(s.random))
	}
	s.grants = grant.NewManager(reg, grantOpts...)
	s.builder = session.NewBuilder(s.signer, session.WithIssuer(s.issuer), session.WithClock(s.now))
	return s
}

// Signin authenticates creds at level. Without an access method name the
// credentials must be a model.Password for a system user. With one they
// must be model.Params for a record or bearer access method.
func (s *AuthService) Signin(ctx context.Context, tx kvs.Transaction, level model.Level, ac string, creds model.Credentials) (res model.SigninResult, err error) {
	path := "unknown"
	defer func() {
		err = s.boundary("signin", err)
		s.metrics.Signin(path, outcome(err))
	}()

	if ac == "" {
		path = "password"
		switch c := creds.(type) {
		case model.Password:
			return s.signinPassword(ctx, tx, level, c)
		case model.Params:
			user, ok1 := c.String("user")
			pass, ok2 := c.String("pass")
			if !ok1 || !ok2 {
				return res, model.ErrInvalidAuth
			}
			return s.signinPassword(ctx, tx, level, model.Password{User: user, Pass: pass})
		default:
			return res, model.ErrInvalidAuth
		}
	}

	vars, ok := creds.(model.Params)
	if !ok {
		return res, model.ErrAccessMethodMismatch
	}
	method, err := s.access.Resolve(ctx, tx, level, ac, model.KindRecord, model.KindBearer)
	if err != nil {
		return res, err
	}
	switch k := method.Kind.(type) {
	case *model.RecordAccess:
		path = "record"
		return s.signinRecord(ctx, tx, method, k, vars)
	case *model.BearerAccess:
		path = "bearer"
		return s.signinBearer(ctx, tx, method, vars)
	case *model.JWTAccess:
		return res, model.ErrAccessMethodMismatch
	default:
		return res, model.ErrAccessMethodMismatch
	}
}

// Signup creates a record through the signup logic of the record access
// method ac and signs it in.
func (s *AuthService) Signup(ctx context.Context, tx kvs.Transaction, level model.Level, ac string, vars model.Params) (res model.SigninResult, err error) {
	defer func() {
		err = s.boundary("signup", err)
		s.metrics.Signin("signup", outcome(err))
	}()

	method, err := s.access.Resolve(ctx, tx, level, ac, model.KindRecord)
	if err != nil {
		return res, err
	}
	rec := method.Kind.(*model.RecordAccess)
	if rec.Signup == nil {
		return res, model.ErrInvalidAuth
	}
	id, err := s.logic.Signup(ctx, rec.Signup, s.env(tx, method, vars))
	if err = s.logicResult(id, err, "signup"); err != nil {
		return res, err
	}
	final, err := s.authenticateRecord(ctx, tx, method, *id)
	if err != nil {
		return res, err
	}
	return s.issueRecord(ctx, tx, method, final)
}

func (s *AuthService) signinPassword(ctx context.Context, tx kvs.Transaction, level model.Level, c model.Password) (model.SigninResult, error) {
	u, err := store.GetUser(ctx, tx, level, c.User)
	if errors.Is(err, store.ErrNotFound) {
		s.dummyVerify(c.Pass)
		return model.SigninResult{}, model.ErrInvalidAuth
	}
	if err != nil {
		return model.SigninResult{}, err
	}
	if !s.passwords.Verify(u.Hash, c.Pass) {
		return model.SigninResult{}, model.ErrInvalidAuth
	}
	if s.systemKey.Key == "" {
		return model.SigninResult{}, fmt.Errorf("%w: no signing key configured for system users", model.ErrFatal)
	}
	d := s.duration
	if u.SessionDuration != nil {
		d = *u.SessionDuration
	}
	return s.builder.Build(session.BuildRequest{
		Subject:  u.Name,
		Level:    level,
		Roles:    u.Roles,
		Duration: d,
		Key:      s.systemKey,
	})
}

// dummyVerify spends the time of one password check on a missing user.
func (s *AuthService) dummyVerify(plain string) {
	if d, ok := s.passwords.(interface{ Dummy() string }); ok {
		s.passwords.Verify(d.Dummy(), plain)
	}
}

func (s *AuthService) signinRecord(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, rec *model.RecordAccess, vars model.Params) (model.SigninResult, error) {
	if token, ok := vars.String("refresh"); ok {
		if !s.access.RefreshEnabled(method) {
			return model.SigninResult{}, model.ErrInvalidAuth
		}
		return s.rotateRefresh(ctx, tx, method, token)
	}
	if rec.Signin == nil {
		return model.SigninResult{}, model.ErrInvalidAuth
	}
	id, err := s.logic.Signin(ctx, rec.Signin, s.env(tx, method, vars))
	if err = s.logicResult(id, err, "signin"); err != nil {
		return model.SigninResult{}, err
	}
	final, err := s.authenticateRecord(ctx, tx, method, *id)
	if err != nil {
		return model.SigninResult{}, err
	}
	return s.issueRecord(ctx, tx, method, final)
}

// rotateRefresh exchanges a refresh token for a new session and a new
// refresh token, revoking the old one.
func (s *AuthService) rotateRefresh(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, token string) (model.SigninResult, error) {
	g, err := s.grants.VerifyFor(ctx, tx, method, model.GrantRefresh, token)
	if err != nil {
		return model.SigninResult{}, err
	}
	if _, err := s.grants.Revoke(ctx, tx, method.Level, method.Name, g.ID); err != nil {
		return model.SigninResult{}, err
	}
	s.metrics.GrantRevoked(string(model.GrantRefresh))
	if err := s.recordExists(ctx, tx, method.Level, g.Subject.Record); err != nil {
		return model.SigninResult{}, err
	}
	final, err := s.authenticateRecord(ctx, tx, method, g.Subject.Record)
	if err != nil {
		return model.SigninResult{}, err
	}
	return s.issueRecord(ctx, tx, method, final)
}

func (s *AuthService) signinBearer(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, vars model.Params) (model.SigninResult, error) {
	key, ok := vars.String("key")
	if !ok {
		return model.SigninResult{}, model.ErrAccessBearerMissingKey
	}
	g, err := s.grants.VerifyFor(ctx, tx, method, model.GrantBearer, key)
	if err != nil {
		return model.SigninResult{}, err
	}

	switch g.Subject.Kind {
	case model.SubjectUser:
		u, err := store.GetUser(ctx, tx, method.Level, g.Subject.User)
		if errors.Is(err, store.ErrNotFound) {
			return model.SigninResult{}, model.ErrInvalidAuth
		}
		if err != nil {
			return model.SigninResult{}, err
		}
		// A user removed and defined again under the same name is a
		// different subject.
		if u.ID != g.Subject.UserID {
			return model.SigninResult{}, model.ErrInvalidAuth
		}
		return s.issueAccess(method, u.Name, u.Roles)
	case model.SubjectRecord:
		if err := s.recordExists(ctx, tx, method.Level, g.Subject.Record); err != nil {
			return model.SigninResult{}, err
		}
		final, err := s.authenticateRecord(ctx, tx, method, g.Subject.Record)
		if err != nil {
			return model.SigninResult{}, err
		}
		return s.issueAccess(method, final.String(), nil)
	default:
		return model.SigninResult{}, model.ErrAccessGrantBearerInvalid
	}
}

// authenticateRecord runs the AUTHENTICATE logic of method, if any, and
// returns the identity the session is issued for.
func (s *AuthService) authenticateRecord(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, id model.RecordID) (model.RecordID, error) {
	if method.Authenticate == nil {
		return id, nil
	}
	got, err := s.logic.Authenticate(ctx, method.Authenticate, s.env(tx, method, nil), id)
	if err = s.logicResult(got, err, "authenticate"); err != nil {
		return model.RecordID{}, err
	}
	return *got, nil
}

// logicResult maps the outcome of record logic: thrown errors and
// conflicts pass, any other failure or an empty result is ErrInvalidAuth.
func (s *AuthService) logicResult(id *model.RecordID, err error, fn string) error {
	switch {
	case err == nil && id != nil && !id.IsZero():
		return nil
	case err == nil:
		return model.ErrInvalidAuth
	case model.IsThrown(err), errors.Is(err, kvs.ErrConflict):
		return err
	default:
		s.logger.Debug("record logic failed", "function", fn, "error", err)
		return model.ErrInvalidAuth
	}
}

func (s *AuthService) recordExists(ctx context.Context, tx kvs.Transaction, level model.Level, id model.RecordID) error {
	_, err := store.GetRecord(ctx, tx, level, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.ErrInvalidAuth
	}
	return err
}

// issueRecord signs a record session and, when refresh is enabled for the
// method, a new refresh token.
func (s *AuthService) issueRecord(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, id model.RecordID) (model.SigninResult, error) {
	res, err := s.issueAccess(method, id.String(), nil)
	if err != nil {
		return res, err
	}
	if s.access.RefreshEnabled(method) {
		key, _, err := s.grants.IssueRefresh(ctx, tx, method, id)
		if err != nil {
			return model.SigninResult{}, err
		}
		s.metrics.GrantIssued(string(model.GrantRefresh))
		res.Refresh = key
	}
	return res, nil
}

// issueAccess signs a session for an identity established through method.
func (s *AuthService) issueAccess(method *model.AccessMethod, subject string, roles []model.Role) (model.SigninResult, error) {
	key, ok := method.IssueConfig()
	if !ok {
		return model.SigninResult{}, fmt.Errorf("%w: access method %s has no issue key", model.ErrFatal, method.Name)
	}
	d := s.duration
	if method.SessionDuration != nil {
		d = *method.SessionDuration
	}
	return s.builder.Build(session.BuildRequest{
		Subject:  subject,
		Level:    method.Level,
		Access:   method.Name,
		Roles:    roles,
		Duration: d,
		Key:      key,
	})
}

func (s *AuthService) env(tx kvs.Transaction, method *model.AccessMethod, vars model.Params) logic.Env {
	return logic.Env{
		Tx:        tx,
		Level:     method.Level,
		Access:    method,
		Vars:      vars,
		Passwords: s.passwords,
		Now:       s.now(),
	}
}
