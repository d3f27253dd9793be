package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/store"
)

// Built-in logic names.
const (
	CredentialsName = "credentials"
	RequireName     = "require"
)

// Credentials authenticates records by an identifying field and a hashed
// secret field.
//
// Parameters: table (default "user"), ident (default "email"), secret
// (default "pass"), fields (optional, comma separated). The signin variables
// under the ident and secret names carry the candidate values; the record
// stores the ident and the secret's hash. Signup copies only the variables
// listed in fields; anything else the caller sends is dropped.
func Credentials() Logic {
	return Logic{Signin: credentialsSignin, Signup: credentialsSignup}
}

type dummyHasher interface {
	Dummy() string
}

func credentialsSignin(ctx context.Context, env Env) (*model.RecordID, error) {
	table := env.Param("table", "user")
	identField := env.Param("ident", "email")
	secretField := env.Param("secret", "pass")

	ident, ok := env.Vars.String(identField)
	if !ok {
		return nil, nil
	}
	plain, ok := env.Vars.String(secretField)
	if !ok {
		return nil, nil
	}

	rec, err := findByField(ctx, env, table, identField, ident)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if d, ok := env.Passwords.(dummyHasher); ok {
			env.Passwords.Verify(d.Dummy(), plain)
		}
		return nil, nil
	}
	hash, _ := rec.Field(secretField).(string)
	if !env.Passwords.Verify(hash, plain) {
		return nil, nil
	}
	id := rec.ID
	return &id, nil
}

func credentialsSignup(ctx context.Context, env Env) (*model.RecordID, error) {
	table := env.Param("table", "user")
	identField := env.Param("ident", "email")
	secretField := env.Param("secret", "pass")

	ident, ok := env.Vars.String(identField)
	if !ok {
		return nil, nil
	}
	plain, ok := env.Vars.String(secretField)
	if !ok {
		return nil, nil
	}
	existing, err := findByField(ctx, env, table, identField, ident)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	hash, err := env.Passwords.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	fields := map[string]any{identField: ident, secretField: hash}
	for _, k := range strings.Split(env.Param("fields", ""), ",") {
		k = strings.TrimSpace(k)
		if k == "" || k == identField || k == secretField {
			continue
		}
		if v, ok := env.Vars[k]; ok {
			fields[k] = v
		}
	}

	rec := &model.Record{ID: model.RecordID{Table: table, Key: uuid.NewString()}, Fields: fields}
	claimed, err := store.ClaimIdent(ctx, env.Tx, env.Level, table, identField, ident, rec.ID)
	if err != nil || !claimed {
		return nil, err
	}
	if err := store.CreateRecord(ctx, env.Tx, env.Level, rec); err != nil {
		return nil, err
	}
	return &rec.ID, nil
}

func findByField(ctx context.Context, env Env, table, field, value string) (*model.Record, error) {
	recs, err := store.ScanRecords(ctx, env.Tx, env.Level, table)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if v, ok := rec.Field(field).(string); ok && v == value {
			return rec, nil
		}
	}
	return nil, nil
}

// Require accepts a record only when a boolean field is true.
//
// Parameters: field (default "enabled"), message (optional). When the field
// is not true the logic throws message, or rejects the identity when no
// message is set.
func Require() Logic {
	return Logic{Authenticate: requireAuthenticate}
}

func requireAuthenticate(ctx context.Context, env Env, id model.RecordID) (*model.RecordID, error) {
	rec, err := store.GetRecord(ctx, env.Tx, env.Level, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v, _ := rec.Field(env.Param("field", "enabled")).(bool); v {
		return &id, nil
	}
	if msg := env.Param("message", ""); msg != "" {
		return nil, model.Throw(msg)
	}
	return nil, nil
}
