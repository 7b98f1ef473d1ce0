package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestPostgres_Rebind(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM cases WHERE case_uid=?", "SELECT * FROM cases WHERE case_uid=$1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT '?' FROM t WHERE a=? AND b='x?y'", "SELECT '?' FROM t WHERE a=$1 AND b='x?y'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Postgres{}.Rebind(tt.in))
	}
	assert.Equal(t, "a=?", SQLite{}.Rebind("a=?"))
}

func TestInsertOrIgnore(t *testing.T) {
	rest := "examiners (login_name) VALUES (?)"
	assert.Equal(t, "INSERT OR IGNORE INTO examiners (login_name) VALUES (?)", SQLite{}.InsertOrIgnore(rest))
	assert.Equal(t, "INSERT INTO examiners (login_name) VALUES (?) ON CONFLICT DO NOTHING", Postgres{}.InsertOrIgnore(rest))
	assert.Equal(t, "INSERT OR ABORT INTO examiners (login_name) VALUES (?)", SQLite{}.InsertOrAbort(rest))
	assert.Equal(t, "INSERT INTO examiners (login_name) VALUES (?)", Postgres{}.InsertOrAbort(rest))
}

func TestFor(t *testing.T) {
	d, err := For("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = For("memory")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	_, err = For("mysql")
	assert.Error(t, err)
}

func TestPostgres_IsUniqueViolation(t *testing.T) {
	d := Postgres{}
	dup := fmt.Errorf("inserting: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, d.IsUniqueViolation(dup))
	assert.False(t, d.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, d.IsUniqueViolation(errors.New("boom")))
}

func TestPostgres_CatalogQueries(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2").
		WithArgs("data_sources", "md5").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1").
		WithArgs("accounts").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ctx := context.Background()
	ok, err := Postgres{}.ColumnExists(ctx, db, "data_sources", "md5")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Postgres{}.TableExists(ctx, db, "accounts")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_CatalogQueries(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "dialect.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	d := SQLite{}
	_, err = db.ExecContext(ctx, "CREATE TABLE cases (id integer primary key, case_uid text UNIQUE)")
	require.NoError(t, err)

	ok, err := d.TableExists(ctx, db, "cases")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.TableExists(ctx, db, "accounts")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.ColumnExists(ctx, db, "cases", "case_uid")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ColumnExists(ctx, db, "cases", "notes")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.ExecContext(ctx, "INSERT INTO cases (case_uid) VALUES ('a')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO cases (case_uid) VALUES ('a')")
	require.Error(t, err)
	assert.True(t, d.IsUniqueViolation(err))
	assert.False(t, d.IsUniqueViolation(errors.New("boom")))
}
