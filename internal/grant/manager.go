// Package grant issues, verifies and revokes bearer grants.
//
// A grant stores only the SHA-256 of its key. The plaintext key is returned
// once by Issue and cannot be recovered afterwards.
package grant

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/faucetdb/accessd/internal/access"
	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/secret"
	"github.com/faucetdb/accessd/internal/store"
)

// Manager runs grant operations inside a caller's transaction.
type Manager struct {
	access *access.Registry
	now    func() time.Time
	random io.Reader
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for creation, expiry and revocation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRandom sets the source keys are generated from.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// NewManager creates a Manager resolving access methods through reg.
func NewManager(reg *access.Registry, opts ...Option) *Manager {
	m := &Manager{access: reg, now: time.Now, random: rand.Reader}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Issue creates a bearer grant for subject on the bearer access method ac
// and returns its plaintext key together with the stored grant.
func (m *Manager) Issue(ctx context.Context, tx kvs.Transaction, level model.Level, ac string, subject model.Subject) (string, *model.Grant, error) {
	method, err := m.access.Resolve(ctx, tx, level, ac, model.KindBearer)
	if err != nil {
		return "", nil, err
	}
	bearer := method.Kind.(*model.BearerAccess)
	if subject.Kind != bearer.Subject {
		return "", nil, model.ErrAccessMethodMismatch
	}

	switch subject.Kind {
	case model.SubjectUser:
		u, err := store.GetUser(ctx, tx, level, subject.User)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, model.ErrSubjectNotFound
		}
		if err != nil {
			return "", nil, err
		}
		subject.UserID = u.ID
		subject.Record = model.RecordID{}
	case model.SubjectRecord:
		if _, err := store.GetRecord(ctx, tx, level, subject.Record); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", nil, model.ErrSubjectNotFound
			}
			return "", nil, err
		}
		subject.User, subject.UserID = "", ""
	}
	return m.issue(ctx, tx, method, model.GrantBearer, subject)
}

// IssueRefresh creates a refresh grant for a record signed in through the
// record access method.
func (m *Manager) IssueRefresh(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, rec model.RecordID) (string, *model.Grant, error) {
	if _, ok := method.Kind.(*model.RecordAccess); !ok {
		return "", nil, model.ErrAccessMethodMismatch
	}
	return m.issue(ctx, tx, method, model.GrantRefresh, model.RecordSubject(rec))
}

func (m *Manager) issue(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, typ model.GrantType, subject model.Subject) (string, *model.Grant, error) {
	key, id, err := secret.GenerateFrom(m.random, typ)
	if err != nil {
		return "", nil, err
	}
	now := m.now().UTC()
	g := &model.Grant{
		ID:         id,
		AccessName: method.Name,
		AccessID:   method.ID,
		Level:      method.Level,
		Type:       typ,
		KeyHash:    secret.Hash(key),
		Subject:    subject,
		CreatedAt:  now,
	}
	if method.GrantDuration != nil {
		exp := now.Add(*method.GrantDuration)
		g.ExpiresAt = &exp
	}
	if err := store.PutGrant(ctx, tx, g); err != nil {
		return "", nil, err
	}
	return key, g, nil
}

// Verify checks a bearer key against the grants of the bearer access method
// ac and returns the matching grant.
func (m *Manager) Verify(ctx context.Context, tx kvs.Transaction, level model.Level, ac, key string) (*model.Grant, error) {
	method, err := m.access.Resolve(ctx, tx, level, ac, model.KindBearer)
	if err != nil {
		return nil, err
	}
	return m.VerifyFor(ctx, tx, method, model.GrantBearer, key)
}

// VerifyFor checks key against the grants of an already resolved method.
// A malformed key, an unknown identifier, a hash mismatch, a revoked or
// expired grant, a key of another type and a grant left over from a
// previous definition of ac all fail with model.ErrAccessGrantBearerInvalid.
func (m *Manager) VerifyFor(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, typ model.GrantType, key string) (*model.Grant, error) {
	parsed, err := secret.Parse(key)
	if err != nil {
		return nil, model.ErrAccessGrantBearerInvalid
	}
	g, err := store.GetGrant(ctx, tx, method.Level, method.Name, parsed.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, model.ErrAccessGrantBearerInvalid
	case err != nil:
		return nil, err
	}
	hashOK := secret.Equal(secret.Hash(key), g.KeyHash)
	if !hashOK || !g.Valid(m.now()) || g.Type != typ || secret.Type(parsed) != typ || g.AccessID != method.ID {
		return nil, model.ErrAccessGrantBearerInvalid
	}
	return g, nil
}

// Revoke marks the grant revoked. Revoking a revoked grant succeeds; an
// unknown identifier fails with model.ErrAccessNotFound.
func (m *Manager) Revoke(ctx context.Context, tx kvs.Transaction, level model.Level, ac, id string) (*model.Grant, error) {
	if _, err := m.access.Resolve(ctx, tx, level, ac); err != nil {
		return nil, err
	}
	g, err := store.RevokeGrant(ctx, tx, level, ac, id, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrAccessNotFound
	}
	return g, err
}

// List returns every grant of ac.
func (m *Manager) List(ctx context.Context, tx kvs.Transaction, level model.Level, ac string) ([]*model.Grant, error) {
	if _, err := m.access.Resolve(ctx, tx, level, ac); err != nil {
		return nil, err
	}
	return store.ListGrants(ctx, tx, level, ac)
}

// Get returns one grant of ac.
func (m *Manager) Get(ctx context.Context, tx kvs.Transaction, level model.Level, ac, id string) (*model.Grant, error) {
	if _, err := m.access.Resolve(ctx, tx, level, ac); err != nil {
		return nil, err
	}
	g, err := store.GetGrant(ctx, tx, level, ac, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrAccessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}
