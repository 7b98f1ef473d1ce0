package schema

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

// ReadVersion reads the persisted schema version from db_info, minor first.
func ReadVersion(ctx context.Context, d dialect.Dialect, q dialect.Querier) (cr.SchemaVersion, error) {
	minor, err := readVersionKey(ctx, d, q, cr.SchemaMinorVersionKey)
	if err != nil {
		return cr.SchemaVersion{}, err
	}
	major, err := readVersionKey(ctx, d, q, cr.SchemaMajorVersionKey)
	if err != nil {
		return cr.SchemaVersion{}, err
	}
	return cr.SchemaVersion{Major: major, Minor: minor}, nil
}

func readVersionKey(ctx context.Context, d dialect.Dialect, q dialect.Querier, key string) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, d.Rebind("SELECT value FROM db_info WHERE name = ?"), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &cr.SchemaVersionError{Key: key, Err: cr.ErrSchemaVersionMissing}
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &cr.SchemaVersionError{Key: key, Value: value, Err: cr.ErrCorruptSchema}
	}
	return n, nil
}

// WriteVersion upserts the current version markers.
func WriteVersion(ctx context.Context, d dialect.Dialect, q dialect.Querier, v cr.SchemaVersion) error {
	for _, kv := range [][2]string{
		{cr.SchemaMajorVersionKey, strconv.Itoa(v.Major)},
		{cr.SchemaMinorVersionKey, strconv.Itoa(v.Minor)},
	} {
		if _, err := q.ExecContext(ctx, d.Rebind("UPDATE db_info SET value = ? WHERE name = ?"), kv[1], kv[0]); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, d.Rebind(d.InsertOrIgnore("db_info (name, value) VALUES (?, ?)")), kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}
