package service

import (
	"context"
	"errors"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/session"
	"github.com/faucetdb/accessd/internal/store"
)

// Authenticate verifies a session token and returns its claims. System
// tokens verify with the service key, access method tokens with the
// method's verify or issue key. The identity the token names must still
// exist.
func (s *AuthService) Authenticate(ctx context.Context, tx kvs.Transaction, token string) (claims model.SessionClaims, err error) {
	defer func() { err = s.boundary("authenticate", err) }()

	peeked, err := session.Peek(token)
	if err != nil {
		return claims, model.ErrInvalidAuth
	}
	level := peeked.Level()
	if !level.Valid() {
		return claims, model.ErrInvalidAuth
	}

	if peeked.AC == "" {
		verified, err := s.verifier.Verify(ctx, token, model.JWTVerify{Alg: s.systemKey.Alg, Key: s.systemKey.Key})
		if err != nil || s.systemKey.Key == "" {
			return claims, model.ErrInvalidAuth
		}
		u, err := store.GetUser(ctx, tx, level, verified.Identity)
		if errors.Is(err, store.ErrNotFound) {
			return claims, model.ErrInvalidAuth
		}
		if err != nil {
			return claims, err
		}
		out := verified.Session()
		out.Roles = u.Roles
		return out, nil
	}

	method, err := s.access.Resolve(ctx, tx, level, peeked.AC)
	if err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return claims, err
		}
		return claims, model.ErrInvalidAuth
	}
	cfg, ok := method.VerifyConfig()
	if !ok {
		return claims, model.ErrInvalidAuth
	}
	verified, err := s.verifier.Verify(ctx, token, cfg)
	if err != nil {
		s.logger.Debug("token verification failed", "access", method.Name, "error", err)
		return claims, model.ErrInvalidAuth
	}

	switch k := method.Kind.(type) {
	case *model.JWTAccess:
		// Identities of externally issued tokens are owned by the issuer.
		return verified.Session(), nil
	case *model.RecordAccess:
		if err := s.checkRecordToken(ctx, tx, method, verified.Identity); err != nil {
			return claims, err
		}
		return verified.Session(), nil
	case *model.BearerAccess:
		if k.Subject == model.SubjectRecord {
			if err := s.checkRecordToken(ctx, tx, method, verified.Identity); err != nil {
				return claims, err
			}
			return verified.Session(), nil
		}
		if _, err := store.GetUser(ctx, tx, level, verified.Identity); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return claims, model.ErrInvalidAuth
			}
			return claims, err
		}
		return verified.Session(), nil
	default:
		return claims, model.ErrInvalidAuth
	}
}

func (s *AuthService) checkRecordToken(ctx context.Context, tx kvs.Transaction, method *model.AccessMethod, identity string) error {
	id, err := model.ParseRecordID(identity)
	if err != nil {
		return model.ErrInvalidAuth
	}
	if err := s.recordExists(ctx, tx, method.Level, id); err != nil {
		return err
	}
	_, err = s.authenticateRecord(ctx, tx, method, id)
	return err
}
