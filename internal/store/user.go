package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

type userRow struct {
	ID              string    `cbor:"id"`
	Name            string    `cbor:"name"`
	Hash            string    `cbor:"hash"`
	Roles           []string  `cbor:"roles,omitempty"`
	SessionDuration *int64    `cbor:"session_duration,omitempty"`
	CreatedAt       time.Time `cbor:"created_at"`
}

func userRowFromModel(u *model.User) userRow {
	roles := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		roles[i] = string(r)
	}
	return userRow{
		ID:              u.ID,
		Name:            u.Name,
		Hash:            u.Hash,
		Roles:           roles,
		SessionDuration: durationRow(u.SessionDuration),
		CreatedAt:       u.CreatedAt,
	}
}

func (r userRow) toModel(level model.Level) *model.User {
	roles := make([]model.Role, len(r.Roles))
	for i, name := range r.Roles {
		roles[i] = model.Role(name)
	}
	return &model.User{
		ID:              r.ID,
		Name:            r.Name,
		Level:           level,
		Hash:            r.Hash,
		Roles:           roles,
		SessionDuration: durationFromRow(r.SessionDuration),
		CreatedAt:       r.CreatedAt,
	}
}

// PutUser stores a system user, replacing any user with the same name.
func PutUser(ctx context.Context, tx kvs.Transaction, u *model.User) error {
	if err := setRow(ctx, tx, userKey(u.Level, u.Name), userRowFromModel(u)); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return err
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser loads a system user by name.
func GetUser(ctx context.Context, tx kvs.Transaction, level model.Level, name string) (*model.User, error) {
	var row userRow
	if err := getRow(ctx, tx, userKey(level, name), &row); err != nil {
		return nil, err
	}
	return row.toModel(level), nil
}

// ListUsers returns every user at level ordered by name.
func ListUsers(ctx context.Context, tx kvs.Transaction, level model.Level) ([]*model.User, error) {
	var out []*model.User
	err := scanRows(ctx, tx, userPrefix(level), func(_, value []byte) error {
		var row userRow
		if err := unmarshal(value, &row); err != nil {
			return err
		}
		out = append(out, row.toModel(level))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// DeleteUser removes a system user. Grants bound to the user stay stored
// and stop verifying.
func DeleteUser(ctx context.Context, tx kvs.Transaction, level model.Level, name string) error {
	key := userKey(level, name)
	existing, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return tx.Delete(ctx, key)
}
