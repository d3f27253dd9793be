package kvs

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

func newTestSQL(t *testing.T) *SQL {
	t.Helper()
	s, err := NewSQLite("") // in-memory
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLGetSetDelete(t *testing.T) {
	s := newTestSQL(t)
	ctx := context.Background()

	mustSet(t, s, "a", "1")
	mustSet(t, s, "a", "2")

	tx := begin(t, s, true)
	got, err := tx.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "2" {
		t.Errorf("got %q, want %q", got, "2")
	}
	if err := tx.Delete(ctx, []byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	check := begin(t, s, false)
	got, err = check.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected deleted key to be absent, got %q", got)
	}
}

func TestSQLUpdateConflict(t *testing.T) {
	s := newTestSQL(t)
	ctx := context.Background()
	mustSet(t, s, "counter", "1")

	tx := begin(t, s, true)
	if _, err := tx.Get(ctx, []byte("counter")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	mustSet(t, s, "counter", "2")

	if err := tx.Set(ctx, []byte("counter"), []byte("3")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("Commit error = %v, want ErrConflict", err)
	}
}

func TestSQLInsertCollision(t *testing.T) {
	s := newTestSQL(t)
	ctx := context.Background()

	a := begin(t, s, true)
	b := begin(t, s, true)
	if err := a.Put(ctx, []byte("id"), []byte("a")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := b.Put(ctx, []byte("id"), []byte("b")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := a.Commit(ctx); err != nil {
		t.Fatalf("Commit a: %v", err)
	}
	if err := b.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("Commit b error = %v, want ErrConflict", err)
	}
}

func TestSQLReadOnlyValidation(t *testing.T) {
	s := newTestSQL(t)
	ctx := context.Background()
	mustSet(t, s, "grant", "active")
	mustSet(t, s, "other", "x")

	// Reads a key, writes another; a concurrent change to the read key
	// must fail the commit.
	tx := begin(t, s, true)
	if _, err := tx.Get(ctx, []byte("grant")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	mustSet(t, s, "grant", "revoked")
	if err := tx.Set(ctx, []byte("other"), []byte("y")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("Commit error = %v, want ErrConflict", err)
	}
}

func TestSQLReadOnlyCommitValidatesReads(t *testing.T) {
	s := newTestSQL(t)
	ctx := context.Background()
	mustSet(t, s, "grant", "active")
	mustSet(t, s, "user", "alice")

	tx := begin(t, s, false)
	if _, err := tx.Get(ctx, []byte("grant")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	mustSet(t, s, "grant", "revoked")
	if _, err := tx.Get(ctx, []byte("user")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("Commit error = %v, want ErrConflict", err)
	}

	clean := begin(t, s, false)
	if _, err := clean.Get(ctx, []byte("grant")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := clean.Scan(ctx, []byte("u"), 0); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := clean.Commit(ctx); err != nil {
		t.Fatalf("Commit unchanged reads: %v", err)
	}
}

func TestSQLScan(t *testing.T) {
	s := newTestSQL(t)
	ctx := context.Background()
	mustSet(t, s, "p\x001", "a")
	mustSet(t, s, "p\x002", "b")
	mustSet(t, s, "p\x01", "outside")

	tx := begin(t, s, true)
	if err := tx.Set(ctx, []byte("p\x003"), []byte("c")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	kvs, err := tx.Scan(ctx, []byte("p\x00"), 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(kvs) != 3 {
		t.Fatalf("got %d entries, want 3", len(kvs))
	}
	if string(kvs[2].Value) != "c" {
		t.Errorf("got %q, want pending value %q", kvs[2].Value, "c")
	}
}

func TestPostgresConflictMapping(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := &SQL{db: sqlx.NewDb(db, "pgx"), d: postgresDialect}
	ctx := context.Background()

	mock.ExpectQuery("SELECT k, v, version FROM kv WHERE k =").
		WillReturnRows(sqlmock.NewRows([]string{"k", "v", "version"}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	tx, err := s.Begin(ctx, true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Put(ctx, []byte("id"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, ErrConflict) {
		t.Fatalf("Commit error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDialectConflicts(t *testing.T) {
	tests := []struct {
		name string
		d    dialect
		err  error
		want bool
	}{
		{"pg unique", postgresDialect, &pgconn.PgError{Code: "23505"}, true},
		{"pg serialization", postgresDialect, &pgconn.PgError{Code: "40001"}, true},
		{"pg syntax", postgresDialect, &pgconn.PgError{Code: "42601"}, false},
		{"mysql duplicate", mysqlDialect, &mysql.MySQLError{Number: 1062}, true},
		{"mysql deadlock", mysqlDialect, &mysql.MySQLError{Number: 1213}, true},
		{"mysql other", mysqlDialect, &mysql.MySQLError{Number: 1146}, false},
		{"sqlite unique", sqliteDialect, errors.New("constraint failed: UNIQUE constraint failed: kv.k (1555)"), true},
		{"sqlite other", sqliteDialect, errors.New("no such table: kv"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.conflict(tt.err); got != tt.want {
				t.Errorf("conflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"sqlite", "postgres", "pgx", "mysql"} {
		if _, err := dialectFor(name); err != nil {
			t.Errorf("dialectFor(%q): %v", name, err)
		}
	}
	if _, err := dialectFor("oracle"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
}
