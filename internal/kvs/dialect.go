package kvs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// dialect holds what differs between the SQL engines the kv table lives on.
type dialect struct {
	// driver is the database/sql driver name, also used by sqlx to pick the
	// placeholder style.
	driver     string
	migrations []string
	// conflict reports whether err signals contention that a retry can fix.
	conflict func(error) bool
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS kv (
				k BLOB PRIMARY KEY,
				v BLOB NOT NULL,
				version INTEGER NOT NULL
			)`,
		},
		conflict: func(err error) bool {
			msg := err.Error()
			return strings.Contains(msg, "UNIQUE constraint failed") ||
				strings.Contains(msg, "database is locked") ||
				strings.Contains(msg, "SQLITE_BUSY")
		},
	}

	postgresDialect = dialect{
		driver: "pgx",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS kv (
				k BYTEA PRIMARY KEY,
				v BYTEA NOT NULL,
				version BIGINT NOT NULL
			)`,
		},
		conflict: func(err error) bool {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				return false
			}
			switch pgErr.Code {
			case "23505", // unique_violation
				"40001", // serialization_failure
				"40P01": // deadlock_detected
				return true
			}
			return false
		},
	}

	mysqlDialect = dialect{
		driver: "mysql",
		migrations: []string{
			`CREATE TABLE IF NOT EXISTS kv (
				k VARBINARY(767) NOT NULL PRIMARY KEY,
				v LONGBLOB NOT NULL,
				version BIGINT NOT NULL
			)`,
		},
		conflict: func(err error) bool {
			var myErr *mysql.MySQLError
			if !errors.As(err, &myErr) {
				return false
			}
			switch myErr.Number {
			case 1062, // ER_DUP_ENTRY
				1213: // ER_LOCK_DEADLOCK
				return true
			}
			return false
		},
	}
)

func dialectFor(name string) (dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	case "mysql":
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported sql dialect: %s", name)
	}
}
