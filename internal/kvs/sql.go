package kvs

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQL stores keys in a single kv table on SQLite, PostgreSQL or MySQL.
//
// Transactions read directly from the table and remember the version of
// every key they observe. Commit re-checks those versions and applies the
// buffered writes as conditional statements inside one SQL transaction, so
// a lost update shows up as ErrConflict rather than an overwrite.
type SQL struct {
	db *sqlx.DB
	d  dialect
}

// OpenSQL connects to dsn using the named dialect ("sqlite", "postgres" or
// "mysql") and creates the kv table if needed.
func OpenSQL(name, dsn string) (*SQL, error) {
	d, err := dialectFor(name)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s datastore: %w", name, err)
	}
	if d.driver == sqliteDialect.driver {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}
	return newSQL(db, d)
}

// NewSQLite opens the SQLite datastore in dataDir. Pass empty string for an
// in-memory datastore.
func NewSQLite(dataDir string) (*SQL, error) {
	dsn := ":memory:"
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "accessd.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return OpenSQL("sqlite", dsn)
}

func newSQL(db *sqlx.DB, d dialect) (*SQL, error) {
	s := &SQL{db: db, d: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate datastore: %w", err)
	}
	return s, nil
}

func (s *SQL) migrate() error {
	for _, m := range s.d.migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Begin starts an optimistic transaction.
func (s *SQL) Begin(ctx context.Context, writable bool) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sqlTx{
		ds:       s,
		writable: writable,
		seen:     make(map[string]observed),
		writes:   make(map[string]pending),
	}, nil
}

type observed struct {
	value   []byte
	version int64 // 0 when the key was absent
}

type kvRow struct {
	K       []byte `db:"k"`
	V       []byte `db:"v"`
	Version int64  `db:"version"`
}

type sqlTx struct {
	ds       *SQL
	writable bool
	done     bool
	seen     map[string]observed
	writes   map[string]pending
}

func (tx *sqlTx) Writable() bool { return tx.writable }

func (tx *sqlTx) check(ctx context.Context, write bool) error {
	if tx.done {
		return ErrTxFinished
	}
	if write && !tx.writable {
		return ErrTxReadonly
	}
	return ctx.Err()
}

// observe returns the committed state of key, reading it once per transaction.
func (tx *sqlTx) observe(ctx context.Context, key []byte) (observed, error) {
	k := string(key)
	if o, ok := tx.seen[k]; ok {
		return o, nil
	}
	var row kvRow
	err := tx.ds.db.GetContext(ctx, &row, tx.ds.db.Rebind("SELECT k, v, version FROM kv WHERE k = ?"), key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row = kvRow{}
	case err != nil:
		return observed{}, fmt.Errorf("read key: %w", err)
	}
	o := observed{value: row.V, version: row.Version}
	tx.seen[k] = o
	return o, nil
}

func (tx *sqlTx) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := tx.check(ctx, false); err != nil {
		return nil, err
	}
	if p, ok := tx.writes[string(key)]; ok {
		if p.deleted {
			return nil, nil
		}
		return bytes.Clone(p.value), nil
	}
	o, err := tx.observe(ctx, key)
	if err != nil {
		return nil, err
	}
	if o.version == 0 {
		return nil, nil
	}
	return bytes.Clone(o.value), nil
}

func (tx *sqlTx) Put(ctx context.Context, key, value []byte) error {
	if err := tx.check(ctx, true); err != nil {
		return err
	}
	existing, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrConflict
	}
	tx.writes[string(key)] = pending{value: bytes.Clone(value)}
	return nil
}

func (tx *sqlTx) Set(ctx context.Context, key, value []byte) error {
	if err := tx.check(ctx, true); err != nil {
		return err
	}
	if _, err := tx.observe(ctx, key); err != nil {
		return err
	}
	tx.writes[string(key)] = pending{value: bytes.Clone(value)}
	return nil
}

func (tx *sqlTx) Delete(ctx context.Context, key []byte) error {
	if err := tx.check(ctx, true); err != nil {
		return err
	}
	if _, err := tx.observe(ctx, key); err != nil {
		return err
	}
	tx.writes[string(key)] = pending{deleted: true}
	return nil
}

func (tx *sqlTx) Scan(ctx context.Context, prefix []byte, limit int) ([]KeyValue, error) {
	if err := tx.check(ctx, false); err != nil {
		return nil, err
	}
	var (
		rows []kvRow
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		err = tx.ds.db.SelectContext(ctx, &rows,
			tx.ds.db.Rebind("SELECT k, v, version FROM kv WHERE k >= ? AND k < ? ORDER BY k"), prefix, end)
	} else {
		err = tx.ds.db.SelectContext(ctx, &rows,
			tx.ds.db.Rebind("SELECT k, v, version FROM kv WHERE k >= ? ORDER BY k"), prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}

	merged := make(map[string][]byte, len(rows))
	for _, r := range rows {
		k := string(r.K)
		o, ok := tx.seen[k]
		if !ok {
			o = observed{value: r.V, version: r.Version}
			tx.seen[k] = o
		}
		if o.version != 0 {
			merged[k] = o.value
		}
	}
	for k, p := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if p.deleted {
			delete(merged, k)
		} else {
			merged[k] = p.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]KeyValue, len(keys))
	for i, k := range keys {
		out[i] = KeyValue{Key: []byte(k), Value: bytes.Clone(merged[k])}
	}
	return out, nil
}

func (tx *sqlTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxFinished
	}
	tx.done = true
	if len(tx.writes) == 0 && len(tx.seen) == 0 {
		return nil
	}

	// Without writes this only validates the observed versions, which keeps
	// read-only transactions from returning a mix of old and new state.
	stx, err := tx.ds.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer stx.Rollback()

	// Apply in key order so concurrent committers lock rows in the same order.
	keys := make([]string, 0, len(tx.seen))
	for k := range tx.seen {
		keys = append(keys, k)
	}
	for k := range tx.writes {
		if _, ok := tx.seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		o := tx.seen[k]
		p, written := tx.writes[k]
		if err := tx.apply(ctx, stx, []byte(k), o, p, written); err != nil {
			return tx.commitErr(err)
		}
	}
	if err := stx.Commit(); err != nil {
		return tx.commitErr(err)
	}
	return nil
}

// apply validates one key against the version this transaction observed and
// writes its pending change, if any.
func (tx *sqlTx) apply(ctx context.Context, stx *sqlx.Tx, key []byte, o observed, p pending, written bool) error {
	db := tx.ds.db
	if !written || (p.deleted && o.version == 0) {
		var current int64
		err := stx.GetContext(ctx, &current, db.Rebind("SELECT version FROM kv WHERE k = ?"), key)
		if errors.Is(err, sql.ErrNoRows) {
			current, err = 0, nil
		}
		if err != nil {
			return err
		}
		if current != o.version {
			return ErrConflict
		}
		return nil
	}

	var (
		res sql.Result
		err error
	)
	switch {
	case o.version == 0:
		res, err = stx.ExecContext(ctx, db.Rebind("INSERT INTO kv (k, v, version) VALUES (?, ?, 1)"), key, p.value)
	case p.deleted:
		res, err = stx.ExecContext(ctx, db.Rebind("DELETE FROM kv WHERE k = ? AND version = ?"), key, o.version)
	default:
		res, err = stx.ExecContext(ctx, db.Rebind("UPDATE kv SET v = ?, version = ? WHERE k = ? AND version = ?"),
			p.value, o.version+1, key, o.version)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func (tx *sqlTx) commitErr(err error) error {
	if errors.Is(err, ErrConflict) || tx.ds.d.conflict(err) {
		return ErrConflict
	}
	return fmt.Errorf("commit: %w", err)
}

func (tx *sqlTx) Cancel() error {
	tx.done = true
	tx.writes = nil
	return nil
}
