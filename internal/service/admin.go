package service

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"

	"github.com/faucetdb/accessd/internal/access"
	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/store"
)

// The operations in this file define the catalog signins run against.
// Their errors are returned as is.

// DefineAccess stores an access method. See access.Registry.Define.
func (s *AuthService) DefineAccess(ctx context.Context, tx kvs.Transaction, a *model.AccessMethod, overwrite bool) error {
	if err := s.access.Define(ctx, tx, a, overwrite); err != nil {
		return err
	}
	s.logger.Info("access method defined", "level", a.Level.String(), "access", a.Name, "kind", a.KindName())
	return nil
}

// RemoveAccess removes an access method. Its grants stay as history.
func (s *AuthService) RemoveAccess(ctx context.Context, tx kvs.Transaction, level model.Level, name string) error {
	if err := s.access.Remove(ctx, tx, level, name); err != nil {
		return err
	}
	s.logger.Info("access method removed", "level", level.String(), "access", name)
	return nil
}

// GetAccess returns the access method name at level regardless of kind.
func (s *AuthService) GetAccess(ctx context.Context, tx kvs.Transaction, level model.Level, name string) (*model.AccessMethod, error) {
	return s.access.Resolve(ctx, tx, level, name)
}

// ListAccesses returns every access method at level.
func (s *AuthService) ListAccesses(ctx context.Context, tx kvs.Transaction, level model.Level) ([]*model.AccessMethod, error) {
	return s.access.List(ctx, tx, level)
}

func validRoles(value interface{}) error {
	roles, _ := value.([]model.Role)
	for _, r := range roles {
		if _, err := model.ParseRole(string(r)); err != nil {
			return err
		}
	}
	return nil
}

func validLevel(value interface{}) error {
	l, _ := value.(model.Level)
	if !l.Valid() {
		return fmt.Errorf("invalid level %v", l)
	}
	return nil
}

// DefineUser stores a system user with the hash of plain. Without overwrite
// an existing user fails with model.ErrUserExists. Overwriting keeps the
// user's ID, so its grants stay valid; removing and defining the user again
// does not.
func (s *AuthService) DefineUser(ctx context.Context, tx kvs.Transaction, u *model.User, plain string, overwrite bool) error {
	err := validation.ValidateStruct(u,
		validation.Field(&u.Name, access.NameRules...),
		validation.Field(&u.Level, validation.By(validLevel)),
		validation.Field(&u.Roles, validation.By(validRoles)),
	)
	if err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	if plain == "" {
		return errors.New("invalid user: password is required")
	}

	existing, err := store.GetUser(ctx, tx, u.Level, u.Name)
	switch {
	case err == nil:
		if !overwrite {
			return model.ErrUserExists
		}
		u.ID, u.CreatedAt = existing.ID, existing.CreatedAt
	case errors.Is(err, store.ErrNotFound):
		u.ID, u.CreatedAt = uuid.NewString(), s.now().UTC()
	default:
		return err
	}

	hash, err := s.passwords.Hash(plain)
	if err != nil {
		return err
	}
	u.Hash = hash
	if len(u.Roles) == 0 {
		u.Roles = []model.Role{model.RoleViewer}
	}
	if err := store.PutUser(ctx, tx, u); err != nil {
		return err
	}
	s.logger.Info("user defined", "level", u.Level.String(), "user", u.Name)
	return nil
}

// RemoveUser removes a system user. Grants bound to it stop working.
func (s *AuthService) RemoveUser(ctx context.Context, tx kvs.Transaction, level model.Level, name string) error {
	err := store.DeleteUser(ctx, tx, level, name)
	if errors.Is(err, store.ErrNotFound) {
		return model.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	s.logger.Info("user removed", "level", level.String(), "user", name)
	return nil
}

// ListUsers returns every system user at level.
func (s *AuthService) ListUsers(ctx context.Context, tx kvs.Transaction, level model.Level) ([]*model.User, error) {
	return store.ListUsers(ctx, tx, level)
}

// PutRecord stores an application record. Fields named in hashed are
// replaced by their password hash first.
func (s *AuthService) PutRecord(ctx context.Context, tx kvs.Transaction, level model.Level, rec *model.Record, hashed ...string) error {
	for _, field := range hashed {
		plain, ok := rec.Fields[field].(string)
		if !ok {
			continue
		}
		hash, err := s.passwords.Hash(plain)
		if err != nil {
			return err
		}
		rec.Fields[field] = hash
	}
	return store.PutRecord(ctx, tx, level, rec)
}

// RemoveRecord deletes an application record.
func (s *AuthService) RemoveRecord(ctx context.Context, tx kvs.Transaction, level model.Level, id model.RecordID) error {
	err := store.DeleteRecord(ctx, tx, level, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("record %s: %w", id, err)
	}
	return err
}
