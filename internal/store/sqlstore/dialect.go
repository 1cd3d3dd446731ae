package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// dialect captures the few places SQLite and Postgres differ: placeholder
// syntax and how driver errors map onto conflicts.
type dialect struct {
	name     string
	dollar   bool
	conflict func(error) bool
}

var sqliteDialect = dialect{name: "sqlite", conflict: isSQLiteConflict}

var postgresDialect = dialect{name: "postgres", dollar: true, conflict: isPostgresConflict}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isSQLiteConflict reports lock contention and uniqueness violations, both of
// which a caller resolves by re-reading and retrying.
func isSQLiteConflict(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED,
		sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

// isPostgresConflict reports unique violations and serialization failures.
func isPostgresConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
