// Package access resolves and maintains access method definitions.
package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/logic"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/store"
)

// Capabilities are the feature switches the registry enforces.
type Capabilities struct {
	// BearerAccess enables bearer access methods and record refresh tokens.
	BearerAccess bool
}

// DefaultIssueAlg signs tokens of record and bearer methods defined without
// an issue key.
const DefaultIssueAlg = "HS512"

// Registry resolves access methods inside a caller's transaction.
type Registry struct {
	caps   Capabilities
	logic  *logic.Registry
	now    func() time.Time
	random io.Reader
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogic checks logic references of defined methods against l.
func WithLogic(l *logic.Registry) Option {
	return func(r *Registry) { r.logic = l }
}

// WithClock sets the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithRandom sets the source of generated issue keys.
func WithRandom(rd io.Reader) Option {
	return func(r *Registry) { r.random = rd }
}

// New creates a Registry enforcing caps.
func New(caps Capabilities, opts ...Option) *Registry {
	r := &Registry{caps: caps, now: time.Now, random: rand.Reader}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Capabilities returns the capabilities the registry was built with.
func (r *Registry) Capabilities() Capabilities { return r.caps }

// RefreshEnabled reports whether record signins through a hand out refresh
// tokens.
func (r *Registry) RefreshEnabled(a *model.AccessMethod) bool {
	rec, ok := a.Kind.(*model.RecordAccess)
	return ok && rec.Refresh && r.caps.BearerAccess
}

// Resolve loads the access method name at level. When kinds is non-empty
// the method must be one of them.
//
// A bearer method while bearer access is disabled resolves to
// model.ErrInvalidAuth, the same error a failed signin returns.
func (r *Registry) Resolve(ctx context.Context, tx kvs.Transaction, level model.Level, name string, kinds ...string) (*model.AccessMethod, error) {
	a, err := store.GetAccess(ctx, tx, level, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, model.ErrAccessNotFound
	case errors.Is(err, kvs.ErrConflict):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("resolve access %s: %w", name, err)
	}
	if _, bearer := a.Kind.(*model.BearerAccess); bearer && !r.caps.BearerAccess {
		return nil, model.ErrInvalidAuth
	}
	if len(kinds) > 0 && !slices.Contains(kinds, a.KindName()) {
		return nil, model.ErrAccessMethodMismatch
	}
	return a, nil
}

// Define validates and stores a. It assigns the ID and creation time and
// generates an issue key for record and bearer methods that lack one. An
// existing method with the same name fails with model.ErrAccessExists
// unless overwrite is set, in which case its ID and creation time are kept.
func (r *Registry) Define(ctx context.Context, tx kvs.Transaction, a *model.AccessMethod, overwrite bool) error {
	if err := r.validate(a); err != nil {
		return fmt.Errorf("invalid access method: %w", err)
	}

	existing, err := store.GetAccess(ctx, tx, a.Level, a.Name)
	switch {
	case err == nil:
		if !overwrite {
			return model.ErrAccessExists
		}
		a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
	case errors.Is(err, store.ErrNotFound):
		a.ID, a.CreatedAt = uuid.NewString(), r.now().UTC()
	default:
		return err
	}

	if err := r.ensureIssueKey(a); err != nil {
		return err
	}
	return store.PutAccess(ctx, tx, a)
}

// ensureIssueKey fills in a random HMAC issue key for methods that sign
// their own sessions.
func (r *Registry) ensureIssueKey(a *model.AccessMethod) error {
	var jwt *model.JWTAccess
	switch k := a.Kind.(type) {
	case *model.RecordAccess:
		jwt = &k.JWT
	case *model.BearerAccess:
		jwt = &k.JWT
	default:
		return nil
	}
	if jwt.Issue != nil && jwt.Issue.Key != "" {
		return nil
	}
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r.random, buf); err != nil {
		return fmt.Errorf("generate issue key: %w", err)
	}
	alg := DefaultIssueAlg
	if jwt.Issue != nil && jwt.Issue.Alg != "" {
		alg = jwt.Issue.Alg
	}
	jwt.Issue = &model.JWTIssue{Alg: alg, Key: hex.EncodeToString(buf)}
	return nil
}

// Remove deletes the access method. Grants issued for it are retained.
func (r *Registry) Remove(ctx context.Context, tx kvs.Transaction, level model.Level, name string) error {
	err := store.DeleteAccess(ctx, tx, level, name)
	if errors.Is(err, store.ErrNotFound) {
		return model.ErrAccessNotFound
	}
	return err
}

// List returns every access method at level.
func (r *Registry) List(ctx context.Context, tx kvs.Transaction, level model.Level) ([]*model.AccessMethod, error) {
	return store.ListAccesses(ctx, tx, level)
}
