package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
)

type logicRow struct {
	Name   string            `cbor:"name"`
	Params map[string]string `cbor:"params,omitempty"`
}

type jwtRow struct {
	VerifyAlg string `cbor:"verify_alg,omitempty"`
	VerifyKey string `cbor:"verify_key,omitempty"`
	VerifyURL string `cbor:"verify_url,omitempty"`
	IssueAlg  string `cbor:"issue_alg,omitempty"`
	IssueKey  string `cbor:"issue_key,omitempty"`
}

// accessRow is the stored form of an access method. Kind selects which of
// the kind-specific fields are meaningful.
type accessRow struct {
	ID              string    `cbor:"id"`
	Name            string    `cbor:"name"`
	Kind            string    `cbor:"kind"`
	JWT             jwtRow    `cbor:"jwt"`
	Signup          *logicRow `cbor:"signup,omitempty"`
	Signin          *logicRow `cbor:"signin,omitempty"`
	Refresh         bool      `cbor:"refresh,omitempty"`
	Subject         string    `cbor:"subject,omitempty"`
	Authenticate    *logicRow `cbor:"authenticate,omitempty"`
	GrantDuration   *int64    `cbor:"grant_duration,omitempty"`
	SessionDuration *int64    `cbor:"session_duration,omitempty"`
	Comment         string    `cbor:"comment,omitempty"`
	CreatedAt       time.Time `cbor:"created_at"`
}

func accessRowFromModel(a *model.AccessMethod) (accessRow, error) {
	row := accessRow{
		ID:              a.ID,
		Name:            a.Name,
		Authenticate:    logicRowFromModel(a.Authenticate),
		GrantDuration:   durationRow(a.GrantDuration),
		SessionDuration: durationRow(a.SessionDuration),
		Comment:         a.Comment,
		CreatedAt:       a.CreatedAt,
	}
	switch k := a.Kind.(type) {
	case *model.JWTAccess:
		row.Kind = model.KindJWT
		row.JWT = jwtRowFromModel(*k)
	case *model.RecordAccess:
		row.Kind = model.KindRecord
		row.JWT = jwtRowFromModel(k.JWT)
		row.Signup = logicRowFromModel(k.Signup)
		row.Signin = logicRowFromModel(k.Signin)
		row.Refresh = k.Refresh
	case *model.BearerAccess:
		row.Kind = model.KindBearer
		row.JWT = jwtRowFromModel(k.JWT)
		row.Subject = string(k.Subject)
	default:
		return accessRow{}, fmt.Errorf("access method %q has no kind", a.Name)
	}
	return row, nil
}

func (r accessRow) toModel(level model.Level) (*model.AccessMethod, error) {
	a := &model.AccessMethod{
		ID:              r.ID,
		Name:            r.Name,
		Level:           level,
		Authenticate:    r.Authenticate.toModel(),
		GrantDuration:   durationFromRow(r.GrantDuration),
		SessionDuration: durationFromRow(r.SessionDuration),
		Comment:         r.Comment,
		CreatedAt:       r.CreatedAt,
	}
	switch r.Kind {
	case model.KindJWT:
		j := r.JWT.toModel()
		a.Kind = &j
	case model.KindRecord:
		a.Kind = &model.RecordAccess{
			Signup:  r.Signup.toModel(),
			Signin:  r.Signin.toModel(),
			Refresh: r.Refresh,
			JWT:     r.JWT.toModel(),
		}
	case model.KindBearer:
		a.Kind = &model.BearerAccess{
			Subject: model.SubjectKind(r.Subject),
			JWT:     r.JWT.toModel(),
		}
	default:
		return nil, fmt.Errorf("unknown access kind %q", r.Kind)
	}
	return a, nil
}

func jwtRowFromModel(j model.JWTAccess) jwtRow {
	row := jwtRow{VerifyAlg: j.Verify.Alg, VerifyKey: j.Verify.Key, VerifyURL: j.Verify.URL}
	if j.Issue != nil {
		row.IssueAlg, row.IssueKey = j.Issue.Alg, j.Issue.Key
	}
	return row
}

func (r jwtRow) toModel() model.JWTAccess {
	j := model.JWTAccess{Verify: model.JWTVerify{Alg: r.VerifyAlg, Key: r.VerifyKey, URL: r.VerifyURL}}
	if r.IssueAlg != "" || r.IssueKey != "" {
		j.Issue = &model.JWTIssue{Alg: r.IssueAlg, Key: r.IssueKey}
	}
	return j
}

func logicRowFromModel(l *model.LogicRef) *logicRow {
	if l == nil {
		return nil
	}
	return &logicRow{Name: l.Name, Params: l.Params}
}

func (r *logicRow) toModel() *model.LogicRef {
	if r == nil {
		return nil
	}
	return &model.LogicRef{Name: r.Name, Params: r.Params}
}

// durationRow stores an optional duration as nanoseconds.
func durationRow(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	n := int64(*d)
	return &n
}

func durationFromRow(n *int64) *time.Duration {
	if n == nil {
		return nil
	}
	d := time.Duration(*n)
	return &d
}

// PutAccess stores an access method, replacing any existing definition with
// the same name.
func PutAccess(ctx context.Context, tx kvs.Transaction, a *model.AccessMethod) error {
	row, err := accessRowFromModel(a)
	if err != nil {
		return err
	}
	if err := setRow(ctx, tx, accessKey(a.Level, a.Name), row); err != nil {
		if errors.Is(err, kvs.ErrConflict) {
			return err
		}
		return fmt.Errorf("put access: %w", err)
	}
	return nil
}

// GetAccess loads an access method by name.
func GetAccess(ctx context.Context, tx kvs.Transaction, level model.Level, name string) (*model.AccessMethod, error) {
	var row accessRow
	if err := getRow(ctx, tx, accessKey(level, name), &row); err != nil {
		return nil, err
	}
	return row.toModel(level)
}

// ListAccesses returns every access method at level ordered by name.
func ListAccesses(ctx context.Context, tx kvs.Transaction, level model.Level) ([]*model.AccessMethod, error) {
	var out []*model.AccessMethod
	err := scanRows(ctx, tx, accessPrefix(level), func(_, value []byte) error {
		var row accessRow
		if err := unmarshal(value, &row); err != nil {
			return err
		}
		a, err := row.toModel(level)
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list accesses: %w", err)
	}
	return out, nil
}

// DeleteAccess removes an access method. Its grants are kept for audit; they
// reference the removed definition's ID and no longer verify.
func DeleteAccess(ctx context.Context, tx kvs.Transaction, level model.Level, name string) error {
	key := accessKey(level, name)
	existing, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotFound
	}
	return tx.Delete(ctx, key)
}
