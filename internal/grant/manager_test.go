package grant

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/accessd/internal/access"
	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/model"
	"github.com/faucetdb/accessd/internal/secret"
	"github.com/faucetdb/accessd/internal/store"
)

var db = model.Database("app", "main")

type fixture struct {
	ds    *kvs.Memory
	reg   *access.Registry
	mgr   *Manager
	now   time.Time
	alice *model.User
}

func newFixture(t *testing.T, grantFor *time.Duration, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{ds: kvs.NewMemory(), now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	t.Cleanup(func() { f.ds.Close() })
	f.reg = access.New(access.Capabilities{BearerAccess: true})
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.mgr = NewManager(f.reg, opts...)

	tx := f.begin(t)
	for _, subject := range []model.SubjectKind{model.SubjectUser, model.SubjectRecord} {
		a := &model.AccessMethod{
			Name:          "api-" + string(subject),
			Level:         db,
			GrantDuration: grantFor,
			Kind:          &model.BearerAccess{Subject: subject},
		}
		if err := f.reg.Define(ctx, tx, a, false); err != nil {
			t.Fatalf("Define: %v", err)
		}
	}
	f.alice = &model.User{ID: "user-1", Name: "alice", Level: db, Roles: []model.Role{model.RoleEditor}}
	if err := store.PutUser(ctx, tx, f.alice); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := store.PutRecord(ctx, tx, db, &model.Record{ID: model.RecordID{Table: "device", Key: "d1"}}); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	f.commit(t, tx)
	return f
}

func (f *fixture) begin(t *testing.T) kvs.Transaction {
	t.Helper()
	tx, err := f.ds.Begin(context.Background(), true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { tx.Cancel() })
	return tx
}

func (f *fixture) commit(t *testing.T, tx kvs.Transaction) {
	t.Helper()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func (f *fixture) issue(t *testing.T, subject model.Subject) (string, *model.Grant) {
	t.Helper()
	tx := f.begin(t)
	key, g, err := f.mgr.Issue(context.Background(), tx, db, "api-"+string(subject.Kind), subject)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	f.commit(t, tx)
	return key, g
}

func (f *fixture) verify(t *testing.T, key string) (*model.Grant, error) {
	t.Helper()
	tx := f.begin(t)
	return f.mgr.Verify(context.Background(), tx, db, "api-user", key)
}

func TestIssueAndVerify(t *testing.T) {
	f := newFixture(t, nil)
	key, g := f.issue(t, model.UserSubject("alice"))

	if !strings.HasPrefix(key, secret.PrefixBearer+"-"+g.ID+"-") {
		t.Errorf("key %q does not carry grant id %q", key, g.ID)
	}
	if g.KeyHash != secret.Hash(key) {
		t.Error("stored hash does not match hash of returned key")
	}
	if g.ExpiresAt != nil {
		t.Errorf("expected non-expiring grant, got %v", g.ExpiresAt)
	}
	if g.Subject.UserID != f.alice.ID {
		t.Errorf("got user id %q, want %q", g.Subject.UserID, f.alice.ID)
	}

	got, err := f.verify(t, key)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Subject.User != "alice" || got.ID != g.ID {
		t.Errorf("verified grant %+v, want subject alice id %s", got, g.ID)
	}
}

func TestVerifyAfterExpiry(t *testing.T) {
	d := time.Hour
	f := newFixture(t, &d)
	key, g := f.issue(t, model.UserSubject("alice"))
	if g.ExpiresAt == nil || !g.ExpiresAt.Equal(f.now.Add(d)) {
		t.Fatalf("got expiry %v, want %v", g.ExpiresAt, f.now.Add(d))
	}

	f.now = f.now.Add(59 * time.Minute)
	if _, err := f.verify(t, key); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}
	f.now = f.now.Add(time.Minute)
	if _, err := f.verify(t, key); !errors.Is(err, model.ErrAccessGrantBearerInvalid) {
		t.Fatalf("Verify after expiry error = %v, want ErrAccessGrantBearerInvalid", err)
	}
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key, g := f.issue(t, model.UserSubject("alice"))

	tx := f.begin(t)
	revoked, err := f.mgr.Revoke(ctx, tx, db, "api-user", g.ID)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatal("expected revocation time")
	}
	f.commit(t, tx)

	if _, err := f.verify(t, key); !errors.Is(err, model.ErrAccessGrantBearerInvalid) {
		t.Fatalf("Verify after revoke error = %v, want ErrAccessGrantBearerInvalid", err)
	}

	tx = f.begin(t)
	if _, err := f.mgr.Revoke(ctx, tx, db, "api-user", g.ID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if _, err := f.mgr.Revoke(ctx, tx, db, "api-user", "unknown00000"); !errors.Is(err, model.ErrAccessNotFound) {
		t.Fatalf("Revoke unknown error = %v, want ErrAccessNotFound", err)
	}
	if _, err := f.mgr.Revoke(ctx, tx, db, "nope", g.ID); !errors.Is(err, model.ErrAccessNotFound) {
		t.Fatalf("Revoke on unknown access error = %v, want ErrAccessNotFound", err)
	}
}

func TestVerifySingleCharacterMutations(t *testing.T) {
	f := newFixture(t, nil)
	key, _ := f.issue(t, model.UserSubject("alice"))

	for i := range len(key) {
		if key[i] == '-' {
			continue
		}
		mutated := []byte(key)
		if mutated[i] == 'x' {
			mutated[i] = 'y'
		} else {
			mutated[i] = 'x'
		}
		if _, err := f.verify(t, string(mutated)); !errors.Is(err, model.ErrAccessGrantBearerInvalid) {
			t.Errorf("mutation at %d (%s): error = %v, want ErrAccessGrantBearerInvalid", i, mutated, err)
		}
	}
	if _, err := f.verify(t, key); err != nil {
		t.Fatalf("original key stopped verifying: %v", err)
	}
}

func TestVerifyWrongTypeAndGarbage(t *testing.T) {
	f := newFixture(t, nil)
	key, _ := f.issue(t, model.UserSubject("alice"))
	asRefresh := strings.Replace(key, secret.PrefixBearer, secret.PrefixRefresh, 1)
	for _, candidate := range []string{asRefresh, "", "garbage", key + " "} {
		if _, err := f.verify(t, candidate); !errors.Is(err, model.ErrAccessGrantBearerInvalid) {
			t.Errorf("Verify(%q) error = %v, want ErrAccessGrantBearerInvalid", candidate, err)
		}
	}
}

func TestVerifyStaleAccessID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key, g := f.issue(t, model.UserSubject("alice"))

	// The grant outlives the definition it was issued for.
	tx := f.begin(t)
	if err := store.DeleteAccess(ctx, tx, db, "api-user"); err != nil {
		t.Fatalf("DeleteAccess: %v", err)
	}
	if err := f.reg.Define(ctx, tx, &model.AccessMethod{Name: "api-user", Level: db, Kind: &model.BearerAccess{Subject: model.SubjectUser}}, false); err != nil {
		t.Fatalf("Define: %v", err)
	}
	kept, err := store.GetGrant(ctx, tx, db, "api-user", g.ID)
	if err != nil {
		t.Fatalf("GetGrant: %v", err)
	}
	f.commit(t, tx)
	if kept.AccessID != g.AccessID {
		t.Fatalf("retained grant AccessID = %q, want %q", kept.AccessID, g.AccessID)
	}

	if _, err := f.verify(t, key); !errors.Is(err, model.ErrAccessGrantBearerInvalid) {
		t.Fatalf("Verify error = %v, want ErrAccessGrantBearerInvalid", err)
	}
}

func TestIssueSubjectChecks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tx := f.begin(t)

	if _, _, err := f.mgr.Issue(ctx, tx, db, "api-user", model.UserSubject("bob")); !errors.Is(err, model.ErrSubjectNotFound) {
		t.Errorf("Issue for missing user error = %v, want ErrSubjectNotFound", err)
	}
	if _, _, err := f.mgr.Issue(ctx, tx, db, "api-user", model.RecordSubject(model.RecordID{Table: "device", Key: "d1"})); !errors.Is(err, model.ErrAccessMethodMismatch) {
		t.Errorf("Issue record subject on user method error = %v, want ErrAccessMethodMismatch", err)
	}
	if _, _, err := f.mgr.Issue(ctx, tx, db, "api-record", model.RecordSubject(model.RecordID{Table: "device", Key: "d2"})); !errors.Is(err, model.ErrSubjectNotFound) {
		t.Errorf("Issue for missing record error = %v, want ErrSubjectNotFound", err)
	}
	key, g, err := f.mgr.Issue(ctx, tx, db, "api-record", model.RecordSubject(model.RecordID{Table: "device", Key: "d1"}))
	if err != nil {
		t.Fatalf("Issue record: %v", err)
	}
	if g.Subject.Record.String() != "device:d1" || key == "" {
		t.Errorf("unexpected record grant %+v", g)
	}
}

func TestIssueBearerDisabled(t *testing.T) {
	f := newFixture(t, nil)
	mgr := NewManager(access.New(access.Capabilities{}))
	tx := f.begin(t)
	if _, _, err := mgr.Issue(context.Background(), tx, db, "api-user", model.UserSubject("alice")); !errors.Is(err, model.ErrInvalidAuth) {
		t.Fatalf("Issue with bearer disabled error = %v, want ErrInvalidAuth", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestForcedCollision(t *testing.T) {
	f := newFixture(t, nil, WithRandom(zeroReader{}))
	ctx := context.Background()

	// Within one transaction the duplicate is visible immediately.
	tx := f.begin(t)
	if _, _, err := f.mgr.Issue(ctx, tx, db, "api-user", model.UserSubject("alice")); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, _, err := f.mgr.Issue(ctx, tx, db, "api-user", model.UserSubject("alice")); !errors.Is(err, kvs.ErrConflict) {
		t.Fatalf("duplicate Issue error = %v, want kvs.ErrConflict", err)
	}
	tx.Cancel()

	// Across transactions the collision surfaces at commit.
	a, b := f.begin(t), f.begin(t)
	if _, _, err := f.mgr.Issue(ctx, a, db, "api-user", model.UserSubject("alice")); err != nil {
		t.Fatalf("Issue a: %v", err)
	}
	if _, _, err := f.mgr.Issue(ctx, b, db, "api-user", model.UserSubject("alice")); err != nil {
		t.Fatalf("Issue b: %v", err)
	}
	f.commit(t, a)
	if err := b.Commit(ctx); !errors.Is(err, kvs.ErrConflict) {
		t.Fatalf("Commit b error = %v, want kvs.ErrConflict", err)
	}
}

func TestIssueUniqueIDs(t *testing.T) {
	f := newFixture(t, nil)
	seen := make(map[string]bool)
	for range 200 {
		_, g := f.issue(t, model.UserSubject("alice"))
		if seen[g.ID] {
			t.Fatalf("duplicate grant id %s", g.ID)
		}
		seen[g.ID] = true
	}
	tx := f.begin(t)
	grants, err := f.mgr.List(context.Background(), tx, db, "api-user")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(grants) != 200 {
		t.Errorf("got %d grants, want 200", len(grants))
	}
}

func TestRawStorageHasNoPlaintext(t *testing.T) {
	f := newFixture(t, nil)
	key, _ := f.issue(t, model.UserSubject("alice"))
	parsed, err := secret.Parse(key)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, kv := range f.ds.Raw() {
		if bytes.Contains(kv.Value, []byte(parsed.Secret)) || bytes.Contains(kv.Key, []byte(parsed.Secret)) {
			t.Fatalf("plaintext secret found under %q", kv.Key)
		}
	}
}

func TestIssueRefreshAndGet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tx := f.begin(t)
	rec := &model.AccessMethod{Name: "account", Level: db, Kind: &model.RecordAccess{Refresh: true}}
	if err := f.reg.Define(ctx, tx, rec, false); err != nil {
		t.Fatalf("Define: %v", err)
	}
	id := model.RecordID{Table: "user", Key: "u1"}
	key, g, err := f.mgr.IssueRefresh(ctx, tx, rec, id)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if !strings.HasPrefix(key, secret.PrefixRefresh+"-") || g.Type != model.GrantRefresh {
		t.Errorf("unexpected refresh grant %q %+v", key, g)
	}
	if _, err := f.mgr.VerifyFor(ctx, tx, rec, model.GrantRefresh, key); err != nil {
		t.Fatalf("VerifyFor: %v", err)
	}
	if _, err := f.mgr.VerifyFor(ctx, tx, rec, model.GrantBearer, key); !errors.Is(err, model.ErrAccessGrantBearerInvalid) {
		t.Errorf("VerifyFor bearer type error = %v, want ErrAccessGrantBearerInvalid", err)
	}
	got, err := f.mgr.Get(ctx, tx, db, "account", g.ID)
	if err != nil || got.ID != g.ID {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := f.mgr.Get(ctx, tx, db, "account", "unknown00000"); !errors.Is(err, model.ErrAccessNotFound) {
		t.Errorf("Get unknown error = %v, want ErrAccessNotFound", err)
	}
	if _, _, err := f.mgr.IssueRefresh(ctx, tx, &model.AccessMethod{Kind: &model.JWTAccess{}}, id); !errors.Is(err, model.ErrAccessMethodMismatch) {
		t.Errorf("IssueRefresh on jwt method error = %v, want ErrAccessMethodMismatch", err)
	}
}
