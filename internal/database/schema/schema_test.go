package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"

	_ "github.com/mattn/go-sqlite3"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "schema.db")+"?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestFactory_CreateAndSeed(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	f := NewFactory(dialect.SQLite{})

	require.NoError(t, f.Create(ctx, db))
	require.NoError(t, f.InsertDefaults(ctx, db))
	// Seeding twice must not duplicate anything.
	require.NoError(t, f.InsertDefaults(ctx, db))

	assert.Equal(t, len(cr.DefaultCorrelationTypes()), countRows(t, db, CorrelationTypes))
	assert.Equal(t, len(cr.PredefinedAccountTypes), countRows(t, db, AccountTypes))
	assert.Equal(t, 1, countRows(t, db, Organizations))
	assert.Equal(t, len(cr.Confidences), countRows(t, db, Confidence))
	assert.Equal(t, len(cr.PersonaStatuses), countRows(t, db, PersonaStatus))
	assert.Equal(t, 4, countRows(t, db, DBInfo))

	d := dialect.SQLite{}
	for _, ct := range cr.DefaultCorrelationTypes() {
		ok, err := d.TableExists(ctx, db, ct.InstanceTable())
		require.NoError(t, err)
		assert.True(t, ok, "table %s", ct.InstanceTable())

		ok, err = d.ColumnExists(ctx, db, ct.InstanceTable(), "account_id")
		require.NoError(t, err)
		assert.Equal(t, ct.HasAccount(), ok, "account_id on %s", ct.InstanceTable())
	}
	ok, err := d.TableExists(ctx, db, "reference_file")
	require.NoError(t, err)
	assert.True(t, ok)

	var minor string
	require.NoError(t, db.QueryRow("SELECT value FROM db_info WHERE name = ?", cr.SchemaMinorVersionKey).Scan(&minor))
	assert.Equal(t, "6", minor)
}

func TestFactory_InstanceTableConflictPolicy(t *testing.T) {
	lite := NewFactory(dialect.SQLite{}).InstanceTable(cr.CorrelationType{ID: cr.DomainTypeID, TableName: "domain"})
	assert.Contains(t, lite, "UNIQUE(data_source_id, value, file_path) ON CONFLICT IGNORE")
	assert.NotContains(t, lite, "account_id")

	pg := NewFactory(dialect.Postgres{}).InstanceTable(cr.CorrelationType{ID: cr.EmailTypeID, TableName: "email_address"})
	assert.Contains(t, pg, "id SERIAL PRIMARY KEY")
	assert.Contains(t, pg, "account_id BIGINT DEFAULT NULL")
	assert.False(t, strings.Contains(pg, "ON CONFLICT IGNORE"))
}

func TestFactory_DBInfoTable(t *testing.T) {
	assert.Contains(t, NewFactory(dialect.Postgres{}).DBInfoTable(), "id SERIAL PRIMARY KEY")
	assert.Contains(t, NewFactory(dialect.SQLite{}).DBInfoTable(), "id integer primary key NOT NULL")
}

func TestFactory_InsertCorrelationTypeSyncsSequence(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO correlation_types (id, display_name, db_table_name, supported, enabled) VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING").
		WithArgs(cr.EmailTypeID, "Email Addresses", "email_address", 1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SELECT setval(pg_get_serial_sequence('correlation_types', 'id'), (SELECT COALESCE(MAX(id), 1) FROM correlation_types))").
		WillReturnResult(sqlmock.NewResult(0, 0))

	f := NewFactory(dialect.Postgres{})
	require.NoError(t, f.InsertCorrelationType(context.Background(), db, cr.CorrelationType{
		ID: cr.EmailTypeID, DisplayName: "Email Addresses", TableName: "email_address", Supported: true, Enabled: true,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_SQLiteSkipsSequenceSync(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewFactory(dialect.SQLite{}).SyncCorrelationTypeIDs(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
