package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/metrics"
	"github.com/faucetdb/accessd/internal/model"
)

func committed(t *testing.T, ds kvs.Datastore, key string) bool {
	t.Helper()
	tx, err := ds.Begin(context.Background(), false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Cancel()
	v, err := tx.Get(context.Background(), []byte(key))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return v != nil
}

func TestTransact(t *testing.T) {
	ds := kvs.NewMemory()
	ctx := context.Background()

	err := Transact(ctx, ds, true, func(tx kvs.Transaction) error {
		return tx.Set(ctx, []byte("kept"), []byte("1"))
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !committed(t, ds, "kept") {
		t.Error("expected write to be committed")
	}

	boom := errors.New("boom")
	err = Transact(ctx, ds, true, func(tx kvs.Transaction) error {
		if err := tx.Set(ctx, []byte("dropped"), []byte("1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transact error = %v, want boom", err)
	}
	if committed(t, ds, "dropped") {
		t.Error("write of failed transaction was committed")
	}
}

func TestTransactPanic(t *testing.T) {
	ds := kvs.NewMemory()
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		Transact(ctx, ds, true, func(tx kvs.Transaction) error {
			tx.Set(ctx, []byte("panicked"), []byte("1"))
			panic("logic bug")
		})
	}()
	if committed(t, ds, "panicked") {
		t.Error("write of panicking transaction was committed")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, 3, func() error {
		calls++
		if calls < 3 {
			return kvs.ErrConflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Retry = %v after %d calls, want nil after 3", err, calls)
	}

	calls = 0
	err = Retry(ctx, 2, func() error {
		calls++
		return kvs.ErrConflict
	})
	if !errors.Is(err, kvs.ErrConflict) || calls != 2 {
		t.Fatalf("Retry = %v after %d calls, want ErrConflict after 2", err, calls)
	}

	calls = 0
	err = Retry(ctx, 5, func() error {
		calls++
		return model.ErrInvalidAuth
	})
	if err != model.ErrInvalidAuth || calls != 1 {
		t.Fatalf("Retry = %v after %d calls, want ErrInvalidAuth after 1", err, calls)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = Retry(cancelled, 3, func() error { return kvs.ErrConflict })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry on cancelled context = %v, want context.Canceled", err)
	}
}

func TestBoundary(t *testing.T) {
	ta := newTestAuth(t, bearerCaps())
	thrown := model.Throw("custom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"public", model.ErrInvalidAuth, model.ErrInvalidAuth},
		{"wrapped public", fmt.Errorf("resolve: %w", model.ErrAccessNotFound), model.ErrAccessNotFound},
		{"conflict", fmt.Errorf("commit: %w", kvs.ErrConflict), kvs.ErrConflict},
		{"fatal", fmt.Errorf("%w: bad key", model.ErrFatal), model.ErrFatal},
		{"internal", errors.New("disk on fire"), model.ErrFatal},
		{"thrown", fmt.Errorf("logic: %w", thrown), thrown},
		{"cancelled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ta.boundary("test", tt.in); got != tt.want {
				t.Errorf("boundary(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestForcedGrantCollision(t *testing.T) {
	ta := newTestAuth(t, bearerCaps(), WithRandom(zeroReader{}))
	ta.defineUser(t, "alice", "secret")
	ta.defineAccess(t, userBearer("api"))
	ctx := context.Background()

	a, err := ta.ds.Begin(ctx, true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	b, err := ta.ds.Begin(ctx, true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { a.Cancel(); b.Cancel() })

	if _, _, err := ta.IssueGrant(ctx, a, db, "api", model.UserSubject("alice")); err != nil {
		t.Fatalf("IssueGrant a: %v", err)
	}
	if _, _, err := ta.IssueGrant(ctx, b, db, "api", model.UserSubject("alice")); err != nil {
		t.Fatalf("IssueGrant b: %v", err)
	}
	if err := a.Commit(ctx); err != nil {
		t.Fatalf("Commit a: %v", err)
	}
	if err := b.Commit(ctx); !errors.Is(err, kvs.ErrConflict) {
		t.Fatalf("Commit b error = %v, want kvs.ErrConflict", err)
	}

	attempts := 0
	err = Retry(ctx, 3, func() error {
		attempts++
		return ta.do(t, func(tx kvs.Transaction) error {
			_, _, err := ta.IssueGrant(ctx, tx, db, "api", model.UserSubject("alice"))
			return err
		})
	})
	if !errors.Is(err, kvs.ErrConflict) || attempts != 3 {
		t.Fatalf("Retry = %v after %d attempts, want ErrConflict after 3", err, attempts)
	}
}

func TestConcurrentIssueDistinctIDs(t *testing.T) {
	ta := newTestAuth(t, bearerCaps())
	ta.defineUser(t, "alice", "secret")
	ta.defineAccess(t, userBearer("api"))

	const n = 50
	ids := make(chan string, n)
	errs := make(chan error, n)
	for range n {
		go func() {
			err := Retry(context.Background(), DefaultAttempts, func() error {
				return ta.do(t, func(tx kvs.Transaction) error {
					_, g, err := ta.IssueGrant(context.Background(), tx, db, "api", model.UserSubject("alice"))
					if err == nil {
						ids <- g.ID
					}
					return err
				})
			})
			errs <- err
		}()
	}
	for range n {
		if err := <-errs; err != nil {
			t.Fatalf("IssueGrant: %v", err)
		}
	}
	close(ids)
	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate grant id %s", id)
		}
		seen[id] = true
	}
}

func TestSigninMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ta := newTestAuth(t, bearerCaps(), WithMetrics(metrics.New(reg)))
	ta.defineUser(t, "user", "pass")

	ta.signin(t, "", model.Password{User: "user", Pass: "pass"})
	ta.signin(t, "", model.Password{User: "user", Pass: "wrong"})
	ta.signin(t, "", model.Password{User: "user", Pass: "wrong"})

	n, err := testutil.GatherAndCount(reg, "accessd_signin_attempts_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d signin series, want 2", n)
	}
}
