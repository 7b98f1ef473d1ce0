package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLite is the dialect of the embedded engine.
type SQLite struct{}

func (SQLite) Name() string                 { return "sqlite" }
func (SQLite) Rebind(query string) string   { return query }
func (SQLite) ConflictClause() string       { return "" }
func (SQLite) UniqueConflictPolicy() string { return " ON CONFLICT IGNORE" }
func (SQLite) PrimaryKey() string           { return "id integer primary key autoincrement NOT NULL" }
func (SQLite) BigInt() string               { return "integer" }

// SyncSequence is empty because AUTOINCREMENT tracks explicit ids.
func (SQLite) SyncSequence(string) string { return "" }

func (SQLite) InsertOrIgnore(rest string) string {
	return "INSERT OR IGNORE INTO " + rest
}

func (SQLite) InsertOrAbort(rest string) string {
	return "INSERT OR ABORT INTO " + rest
}

func (SQLite) IsUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrConstraint &&
		(serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func (SQLite) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	ok, err := countExists(ctx, q, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return ok, nil
}

// ColumnExists uses PRAGMA table_info, which cannot take a bound table name.
// Callers pass only validated table tokens.
func (SQLite) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scanning columns of %s: %w", table, err)
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	return false, nil
}
