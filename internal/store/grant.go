package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

// grantRow is the stored form of a grant. The level and access name are
// encoded in the key.
type grantRow struct {
	ID          string     `cbor:"id"`
	AccessID    string     `cbor:"access_id"`
	Type        string     `cbor:"type"`
	KeyHash     string     `cbor:"key_hash"`
	SubjectKind string     `cbor:"subject_kind"`
	User        string     `cbor:"user,omitempty"`
	UserID      string     `cbor:"user_id,omitempty"`
	RecordTable string     `cbor:"record_tb,omitempty"`
	RecordKey   string     `cbor:"record_id,omitempty"`
	CreatedAt   time.Time  `cbor:"created_at"`
	ExpiresAt   *time.Time `cbor:"expires_at,omitempty"`
	RevokedAt   *time.Time `cbor:"revoked_at,omitempty"`
}

func grantRowFromModel(g *model.Grant) grantRow {
	return grantRow{
		ID:          g.ID,
		AccessID:    g.AccessID,
		Type:        string(g.Type),
		KeyHash:     g.KeyHash,
		SubjectKind: string(g.Subject.Kind),
		User:        g.Subject.User,
		UserID:      g.Subject.UserID,
		RecordTable: g.Subject.Record.Table,
		RecordKey:   g.Subject.Record.Key,
		CreatedAt:   g.CreatedAt,
		ExpiresAt:   g.ExpiresAt,
		RevokedAt:   g.RevokedAt,
	}
}

func (r grantRow) toModel(level model.Level, ac string) *model.Grant {
	return &model.Grant{
		ID:         r.ID,
		AccessName: ac,
		AccessID:   r.AccessID,
		Level:      level,
		Type:       model.GrantType(r.Type),
		KeyHash:    r.KeyHash,
		Subject: model.Subject{
			Kind:   model.SubjectKind(r.SubjectKind),
			User:   r.User,
			UserID: r.UserID,
			Record: model.RecordID{Table: r.RecordTable, Key: r.RecordKey},
		},
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		RevokedAt: r.RevokedAt,
	}
}

// PutGrant inserts a new grant. An identifier already taken for the same
// level and access method fails with kvs.ErrConflict, either here or when
// the transaction commits.
func PutGrant(ctx context.Context, tx kvs.Transaction, g *model.Grant) error {
	if err := putRow(ctx, tx, grantKey(g.Level, g.AccessName, g.ID), grantRowFromModel(g)); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return err
		}
		return fmt.Errorf("put grant: %w", err)
	}
	return nil
}

// GetGrant loads a grant by identifier.
func GetGrant(ctx context.Context, tx kvs.Transaction, level model.Level, ac, id string) (*model.Grant, error) {
	var row grantRow
	if err := getRow(ctx, tx, grantKey(level, ac, id), &row); err != nil {
		return nil, err
	}
	return row.toModel(level, ac), nil
}

// RevokeGrant marks a grant revoked at at. Revoking an already revoked grant
// keeps the original revocation time and succeeds.
func RevokeGrant(ctx context.Context, tx kvs.Transaction, level model.Level, ac, id string, at time.Time) (*model.Grant, error) {
	key := grantKey(level, ac, id)
	var row grantRow
	if err := getRow(ctx, tx, key, &row); err != nil {
		return nil, err
	}
	if row.RevokedAt == nil {
		at = at.UTC()
		row.RevokedAt = &at
		if err := setRow(ctx, tx, key, row); err != nil {
			return nil, err
		}
	}
	return row.toModel(level, ac), nil
}

// ListGrants returns every grant of an access method ordered by identifier.
func ListGrants(ctx context.Context, tx kvs.Transaction, level model.Level, ac string) ([]*model.Grant, error) {
	var grants []*model.Grant
	err := scanRows(ctx, tx, grantPrefix(level, ac), func(_, value []byte) error {
		var row grantRow
		if err := unmarshal(value, &row); err != nil {
			return err
		}
		grants = append(grants, row.toModel(level, ac))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}
