package dialect

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE raised by a unique constraint.
const uniqueViolation = "23505"

// Postgres is the dialect of the client/server engine.
type Postgres struct{}

func (Postgres) Name() string                 { return "postgres" }
func (Postgres) Rebind(query string) string   { return rebindDollar(query) }
func (Postgres) ConflictClause() string       { return "ON CONFLICT DO NOTHING" }
func (Postgres) UniqueConflictPolicy() string { return "" }
func (Postgres) PrimaryKey() string           { return "id SERIAL PRIMARY KEY" }
func (Postgres) BigInt() string               { return "BIGINT" }

func (Postgres) SyncSequence(table string) string {
	return fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT COALESCE(MAX(id), 1) FROM %s))", table, table)
}

func (Postgres) InsertOrIgnore(rest string) string {
	return "INSERT INTO " + rest + " ON CONFLICT DO NOTHING"
}

func (Postgres) InsertOrAbort(rest string) string {
	return "INSERT INTO " + rest
}

func (Postgres) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (Postgres) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	ok, err := countExists(ctx, q,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", table)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return ok, nil
}

func (Postgres) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	ok, err := countExists(ctx, q,
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2",
		table, column)
	if err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return ok, nil
}
