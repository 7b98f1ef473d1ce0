package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
	"crepo/internal/database/schema"
)

// step upgrades a repository older than to.
type step struct {
	to    cr.SchemaVersion
	apply func(ctx context.Context, env *stepEnv) error
}

type stepEnv struct {
	tx     *sql.Tx
	d      dialect.Dialect
	f      *schema.Factory
	logger cr.Logger
	from   cr.SchemaVersion
}

func (e *stepEnv) exec(ctx context.Context, stmts ...string) error {
	return schema.Exec(ctx, e.tx, stmts...)
}

// addColumn adds column to table unless it is already there.
func (e *stepEnv) addColumn(ctx context.Context, table, column, def string) error {
	ok, err := e.d.ColumnExists(ctx, e.tx, table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	e.logger.Debug("adding column", "table", table, "column", column)
	return e.exec(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+def)
}

// addType registers t and creates its tables.
func (e *stepEnv) addType(ctx context.Context, t cr.CorrelationType) error {
	if err := e.f.InsertCorrelationType(ctx, e.tx, t); err != nil {
		return err
	}
	return e.f.CreateInstanceTable(ctx, e.tx, t)
}

func (e *stepEnv) isPostgres() bool { return e.d.Name() == "postgres" }

func defaultSteps() []step {
	return []step{
		{to: cr.SchemaVersion{Major: 1, Minor: 1}, apply: upgradeTo11},
		{to: cr.SchemaVersion{Major: 1, Minor: 2}, apply: upgradeTo12},
		{to: cr.SchemaVersion{Major: 1, Minor: 3}, apply: upgradeTo13},
		{to: cr.SchemaVersion{Major: 1, Minor: 4}, apply: upgradeTo14},
		{to: cr.SchemaVersion{Major: 1, Minor: 5}, apply: upgradeTo15},
		{to: cr.SchemaVersion{Major: 1, Minor: 6}, apply: upgradeTo16},
	}
}

// upgradeTo11 adds the reference set classification columns. Sets imported before
// 1.1 were all notable file hash sets.
func upgradeTo11(ctx context.Context, env *stepEnv) error {
	for _, c := range [][2]string{
		{"known_status", "integer"},
		{"read_only", "boolean"},
		{"type", "integer"},
	} {
		if err := env.addColumn(ctx, schema.ReferenceSets, c[0], c[1]); err != nil {
			return err
		}
	}
	backfill := env.d.Rebind("UPDATE reference_sets SET " +
		"known_status = COALESCE(known_status, ?), read_only = COALESCE(read_only, ?), type = COALESCE(type, ?)")
	if _, err := env.tx.ExecContext(ctx, backfill, int(cr.KnownStatusBad), false, cr.FilesTypeID); err != nil {
		return fmt.Errorf("backfilling reference sets: %w", err)
	}
	return env.f.InsertDefaultOrganization(ctx, env.tx)
}

// upgradeTo12 adds data source object ids and hashes, per-instance file object ids,
// the types 5 through 9, and rebuilds db_info with a unique name column.
func upgradeTo12(ctx context.Context, env *stepEnv) error {
	if err := env.addColumn(ctx, schema.DataSources, "datasource_obj_id", env.d.BigInt()); err != nil {
		return err
	}
	if err := env.exec(ctx, env.f.DataSourcesIndexes()...); err != nil {
		return err
	}
	for _, h := range []string{"md5", "sha1", "sha256"} {
		if err := env.addColumn(ctx, schema.DataSources, h, "text DEFAULT NULL"); err != nil {
			return err
		}
	}

	for _, t := range cr.BuiltinCorrelationTypes() {
		switch {
		case t.ID > cr.ICCIDTypeID:
			continue
		case t.ID >= cr.SSIDTypeID:
			if err := env.addType(ctx, t); err != nil {
				return err
			}
		default:
			table := t.InstanceTable()
			if err := env.addColumn(ctx, table, "file_obj_id", env.d.BigInt()); err != nil {
				return err
			}
			if err := env.exec(ctx, env.f.InstanceIndexes(table)...); err != nil {
				return err
			}
		}
	}

	return rebuildDBInfo(ctx, env)
}

func rebuildDBInfo(ctx context.Context, env *stepEnv) error {
	creationMajor, err := readInfo(ctx, env, cr.CreationSchemaMajorVersionKey, "0")
	if err != nil {
		return err
	}
	creationMinor, err := readInfo(ctx, env, cr.CreationSchemaMinorVersionKey, "0")
	if err != nil {
		return err
	}

	if err := env.exec(ctx, "DROP TABLE db_info", env.f.DBInfoTable()); err != nil {
		return err
	}
	insert := env.d.Rebind("INSERT INTO db_info (name, value) VALUES (?, ?)")
	for _, kv := range [][2]string{
		{cr.SchemaMajorVersionKey, fmt.Sprint(env.from.Major)},
		{cr.SchemaMinorVersionKey, fmt.Sprint(env.from.Minor)},
		{cr.CreationSchemaMajorVersionKey, creationMajor},
		{cr.CreationSchemaMinorVersionKey, creationMinor},
	} {
		if _, err := env.tx.ExecContext(ctx, insert, kv[0], kv[1]); err != nil {
			return fmt.Errorf("writing %s: %w", kv[0], err)
		}
	}
	return nil
}

func readInfo(ctx context.Context, env *stepEnv, name, fallback string) (string, error) {
	var value string
	err := env.tx.QueryRowContext(ctx, env.d.Rebind("SELECT value FROM db_info WHERE name = ?"), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return value, nil
}

// upgradeTo13 widens the data source uniqueness to (case, device, name, object id).
func upgradeTo13(ctx context.Context, env *stepEnv) error {
	if env.isPostgres() {
		return env.exec(ctx,
			"ALTER TABLE data_sources DROP CONSTRAINT datasource_unique",
			"ALTER TABLE data_sources ADD CONSTRAINT datasource_unique UNIQUE (case_id, device_id, name, datasource_obj_id)",
		)
	}

	// SQLite cannot alter a constraint: build the new table, copy, then swap names so
	// references held by the instance tables still resolve to data_sources.
	const cols = "id, case_id, device_id, name, datasource_obj_id, md5, sha1, sha256"
	stmts := []string{
		"DROP INDEX IF EXISTS data_sources_name",
		"DROP INDEX IF EXISTS data_sources_object_id",
		env.f.UpgradedDataSourcesTable("new_data_sources"),
		"INSERT INTO new_data_sources (" + cols + ") SELECT " + cols + " FROM data_sources",
		"DROP TABLE data_sources",
		"ALTER TABLE new_data_sources RENAME TO data_sources",
	}
	stmts = append(stmts, env.f.DataSourcesIndexes()...)
	return env.exec(ctx, stmts...)
}

// upgradeTo14 adds accounts and personas.
func upgradeTo14(ctx context.Context, env *stepEnv) error {
	if err := env.exec(ctx, env.f.AccountTypesTable(), env.f.AccountsTable()); err != nil {
		return err
	}
	for _, t := range cr.AccountCorrelationTypes() {
		if err := env.addType(ctx, t); err != nil {
			return err
		}
	}
	if err := env.f.InsertAccountTypes(ctx, env.tx); err != nil {
		return err
	}
	for _, t := range []string{"email_address_instances", "phone_number_instances"} {
		if err := env.addColumn(ctx, t, "account_id", env.d.BigInt()+" DEFAULT NULL"); err != nil {
			return err
		}
	}

	if err := env.exec(ctx, env.f.ExaminersTable()); err != nil {
		return err
	}
	if err := env.exec(ctx, env.f.PersonaTables()...); err != nil {
		return err
	}
	return env.f.InsertPersonaDefaults(ctx, env.tx)
}

func upgradeTo15(ctx context.Context, env *stepEnv) error {
	return addBuiltinType(ctx, env, cr.InstalledProgsTypeID)
}

func upgradeTo16(ctx context.Context, env *stepEnv) error {
	return addBuiltinType(ctx, env, cr.OSAccountTypeID)
}

func addBuiltinType(ctx context.Context, env *stepEnv, id int) error {
	t, ok := cr.DefaultCorrelationType(id)
	if !ok {
		return fmt.Errorf("no built-in correlation type %d", id)
	}
	return env.addType(ctx, t)
}
