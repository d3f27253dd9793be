package service

import (
	"context"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

// IssueGrant issues a bearer grant for subject on the bearer access method
// ac. The returned key is the only copy of the secret.
func (s *AuthService) IssueGrant(ctx context.Context, tx kvs.Transaction, level model.Level, ac string, subject model.Subject) (key string, g *model.Grant, err error) {
	defer func() { err = s.boundary("issue grant", err) }()

	key, g, err = s.grants.Issue(ctx, tx, level, ac, subject)
	if err != nil {
		return "", nil, err
	}
	s.metrics.GrantIssued(string(g.Type))
	s.logger.Info("grant issued", "level", level.String(), "access", ac, "grant", g.ID, "subject", g.Subject.String())
	return key, g, nil
}

// RevokeGrant revokes grant id of ac. Revoking twice succeeds.
func (s *AuthService) RevokeGrant(ctx context.Context, tx kvs.Transaction, level model.Level, ac, id string) (g *model.Grant, err error) {
	defer func() { err = s.boundary("revoke grant", err) }()

	g, err = s.grants.Revoke(ctx, tx, level, ac, id)
	if err != nil {
		return nil, err
	}
	s.metrics.GrantRevoked(string(g.Type))
	s.logger.Info("grant revoked", "level", level.String(), "access", ac, "grant", g.ID)
	return g, nil
}

// ListGrants returns the grants of ac, revoked and expired ones included.
func (s *AuthService) ListGrants(ctx context.Context, tx kvs.Transaction, level model.Level, ac string) (grants []*model.Grant, err error) {
	defer func() { err = s.boundary("list grants", err) }()
	return s.grants.List(ctx, tx, level, ac)
}

// GetGrant returns grant id of ac.
func (s *AuthService) GetGrant(ctx context.Context, tx kvs.Transaction, level model.Level, ac, id string) (g *model.Grant, err error) {
	defer func() { err = s.boundary("get grant", err) }()
	return s.grants.Get(ctx, tx, level, ac, id)
}
