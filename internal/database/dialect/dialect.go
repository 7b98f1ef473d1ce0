// Package dialect holds the SQL fragments and catalog queries that differ between
// the supported engines.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect describes an engine's SQL differences. Queries elsewhere are written with
// '?' placeholders and passed through Rebind before execution.
type Dialect interface {
	// Name is "sqlite" or "postgres".
	Name() string

	// Rebind rewrites '?' placeholders into the engine's native form.
	Rebind(query string) string

	// ConflictClause is appended to inserts into tables whose unique constraints
	// must be skipped silently. It is empty where the table definition carries the policy.
	ConflictClause() string

	// UniqueConflictPolicy is appended to a UNIQUE(...) table constraint.
	UniqueConflictPolicy() string

	// InsertOrIgnore builds an insert of rest ("table (cols) VALUES (...)") that skips conflicts.
	InsertOrIgnore(rest string) string

	// InsertOrAbort builds an insert that fails on any conflict, overriding a table's
	// conflict policy.
	InsertOrAbort(rest string) string

	// PrimaryKey is the column definition of an auto-assigned integer id.
	PrimaryKey() string

	// BigInt is the type used for foreign keys and object ids.
	BigInt() string

	// SyncSequence returns a statement that moves the id sequence of table past its
	// largest id, or "" where explicit ids already advance it.
	SyncSequence(table string) string

	// IsUniqueViolation reports whether err was raised by a unique constraint.
	IsUniqueViolation(err error) bool

	TableExists(ctx context.Context, q Querier, table string) (bool, error)
	ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error)
}

// For returns the dialect for an engine name.
func For(name string) (Dialect, error) {
	switch name {
	case "sqlite", "memory":
		return SQLite{}, nil
	case "postgres":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("unknown database engine: %s", name)
}

// rebindDollar replaces each '?' outside single-quoted literals with $1, $2, ...
func rebindDollar(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func countExists(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
