// Package schema builds the central repository DDL for each engine and seeds the default content.
// The migrator shares these templates so fresh and upgraded repositories converge.
package schema

import (
	"context"
	"fmt"
	"strconv"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

// DefaultOrganizationName is the organization every repository is seeded with.
const DefaultOrganizationName = "Not Specified"

// Fixed table names.
const (
	Organizations    = "organizations"
	Cases            = "cases"
	DataSources      = "data_sources"
	ReferenceSets    = "reference_sets"
	CorrelationTypes = "correlation_types"
	DBInfo           = "db_info"
	AccountTypes     = "account_types"
	Accounts         = "accounts"
	Examiners        = "examiners"
	Confidence       = "confidence"
	PersonaStatus    = "persona_status"
	Personas         = "personas"
	PersonaAlias     = "persona_alias"
	PersonaMetadata  = "persona_metadata"
	PersonaAccounts  = "persona_accounts"
)

// Factory renders DDL for one dialect.
type Factory struct {
	d dialect.Dialect
}

// NewFactory returns a Factory for d.
func NewFactory(d dialect.Dialect) *Factory {
	return &Factory{d: d}
}

// Dialect returns the dialect the factory renders for.
func (f *Factory) Dialect() dialect.Dialect { return f.d }

func (f *Factory) OrganizationsTable() string {
	return "CREATE TABLE IF NOT EXISTS organizations (" +
		f.d.PrimaryKey() + "," +
		"org_name text NOT NULL," +
		"poc_name text NOT NULL," +
		"poc_email text NOT NULL," +
		"poc_phone text NOT NULL," +
		"CONSTRAINT org_name_unique UNIQUE (org_name))"
}

func (f *Factory) CasesTable() string {
	return "CREATE TABLE IF NOT EXISTS cases (" +
		f.d.PrimaryKey() + "," +
		"case_uid text NOT NULL," +
		"org_id " + f.d.BigInt() + "," +
		"case_name text NOT NULL," +
		"creation_date text NOT NULL," +
		"case_number text," +
		"examiner_name text," +
		"examiner_email text," +
		"examiner_phone text," +
		"notes text," +
		"foreign key (org_id) references organizations(id) ON UPDATE SET NULL ON DELETE SET NULL," +
		"CONSTRAINT case_uid_unique UNIQUE(case_uid)" + f.d.UniqueConflictPolicy() + ")"
}

func (f *Factory) CasesIndexes() []string {
	return []string{
		"CREATE INDEX IF NOT EXISTS cases_org_id ON cases (org_id)",
		"CREATE INDEX IF NOT EXISTS cases_case_uid ON cases (case_uid)",
	}
}

// DataSourcesTable renders data_sources for a fresh repository, unique by (case, object id).
func (f *Factory) DataSourcesTable() string {
	return f.dataSourcesTable(DataSources, "UNIQUE (case_id, datasource_obj_id)")
}

// UpgradedDataSourcesTable renders data_sources as the 1.3 upgrade leaves it: unique by
// (case, device, name, object id). name is the table to create.
func (f *Factory) UpgradedDataSourcesTable(name string) string {
	return f.dataSourcesTable(name, "UNIQUE (case_id, device_id, name, datasource_obj_id)")
}

func (f *Factory) dataSourcesTable(name, unique string) string {
	return "CREATE TABLE IF NOT EXISTS " + name + " (" +
		f.d.PrimaryKey() + "," +
		"case_id " + f.d.BigInt() + " NOT NULL," +
		"device_id text NOT NULL," +
		"name text NOT NULL," +
		"datasource_obj_id " + f.d.BigInt() + "," +
		"md5 text DEFAULT NULL," +
		"sha1 text DEFAULT NULL," +
		"sha256 text DEFAULT NULL," +
		"foreign key (case_id) references cases(id) ON UPDATE SET NULL ON DELETE SET NULL," +
		"CONSTRAINT datasource_unique " + unique + ")"
}

func (f *Factory) DataSourcesIndexes() []string {
	return []string{
		"CREATE INDEX IF NOT EXISTS data_sources_name ON data_sources (name)",
		"CREATE INDEX IF NOT EXISTS data_sources_object_id ON data_sources (datasource_obj_id)",
	}
}

func (f *Factory) ReferenceSetsTable() string {
	return "CREATE TABLE IF NOT EXISTS reference_sets (" +
		f.d.PrimaryKey() + "," +
		"org_id " + f.d.BigInt() + " NOT NULL," +
		"set_name text NOT NULL," +
		"version text NOT NULL," +
		"known_status integer NOT NULL," +
		"read_only boolean NOT NULL," +
		"type integer NOT NULL," +
		"import_date text NOT NULL," +
		"foreign key (org_id) references organizations(id) ON UPDATE SET NULL ON DELETE SET NULL," +
		"CONSTRAINT hash_set_unique UNIQUE (set_name, version))"
}

func (f *Factory) ReferenceSetsIndexes() []string {
	return []string{"CREATE INDEX IF NOT EXISTS reference_sets_org_id ON reference_sets (org_id)"}
}

// ReferenceTable renders a reference value table such as reference_file.
func (f *Factory) ReferenceTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		f.d.PrimaryKey() + "," +
		"reference_set_id " + f.d.BigInt() + "," +
		"value text NOT NULL," +
		"known_status integer NOT NULL," +
		"comment text," +
		"CONSTRAINT " + table + "_multi_unique UNIQUE(reference_set_id, value)" + f.d.UniqueConflictPolicy() + "," +
		"foreign key (reference_set_id) references reference_sets(id) ON UPDATE SET NULL ON DELETE SET NULL)"
}

func (f *Factory) ReferenceIndexes(table string) []string {
	return []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_value ON %s (value)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_value_known_status ON %s (value, known_status)", table, table),
	}
}

func (f *Factory) CorrelationTypesTable() string {
	return "CREATE TABLE IF NOT EXISTS correlation_types (" +
		f.d.PrimaryKey() + "," +
		"display_name text NOT NULL," +
		"db_table_name text NOT NULL," +
		"supported integer NOT NULL," +
		"enabled integer NOT NULL," +
		"CONSTRAINT correlation_types_names UNIQUE (display_name, db_table_name))"
}

// DBInfoTable renders db_info with a unique name column.
func (f *Factory) DBInfoTable() string {
	pk := "id integer primary key NOT NULL"
	if f.d.Name() == "postgres" {
		pk = f.d.PrimaryKey()
	}
	return "CREATE TABLE IF NOT EXISTS db_info (" + pk + ", name text UNIQUE NOT NULL, value text NOT NULL)"
}

func (f *Factory) AccountTypesTable() string {
	return "CREATE TABLE IF NOT EXISTS account_types (" +
		f.d.PrimaryKey() + "," +
		"type_name text NOT NULL," +
		"display_name text NOT NULL," +
		"correlation_type_id " + f.d.BigInt() + "," +
		"CONSTRAINT type_name_unique UNIQUE (type_name)," +
		"FOREIGN KEY (correlation_type_id) REFERENCES correlation_types(id))"
}

func (f *Factory) AccountsTable() string {
	return "CREATE TABLE IF NOT EXISTS accounts (" +
		f.d.PrimaryKey() + "," +
		"account_type_id " + f.d.BigInt() + " NOT NULL," +
		"account_unique_identifier text NOT NULL," +
		"CONSTRAINT account_type_unique UNIQUE (account_type_id, account_unique_identifier)," +
		"FOREIGN KEY (account_type_id) REFERENCES account_types(id))"
}

// InstanceTable renders the instance table of t. Account-bearing types get account_id.
func (f *Factory) InstanceTable(t cr.CorrelationType) string {
	table := t.InstanceTable()
	account := ""
	accountFK := ""
	if t.HasAccount() {
		account = "account_id " + f.d.BigInt() + " DEFAULT NULL,"
		accountFK = "foreign key (account_id) references accounts(id),"
	}
	return "CREATE TABLE IF NOT EXISTS " + table + " (" +
		f.d.PrimaryKey() + "," +
		"case_id " + f.d.BigInt() + " NOT NULL," +
		"data_source_id " + f.d.BigInt() + " NOT NULL," +
		account +
		"value text NOT NULL," +
		"file_path text NOT NULL," +
		"known_status integer NOT NULL," +
		"comment text," +
		"file_obj_id " + f.d.BigInt() + "," +
		"CONSTRAINT " + table + "_multi_unique UNIQUE(data_source_id, value, file_path)" + f.d.UniqueConflictPolicy() + "," +
		accountFK +
		"foreign key (case_id) references cases(id) ON UPDATE SET NULL ON DELETE SET NULL," +
		"foreign key (data_source_id) references data_sources(id) ON UPDATE SET NULL ON DELETE SET NULL)"
}

// InstanceIndexes returns the index statements of an instance table.
func (f *Factory) InstanceIndexes(table string) []string {
	idx := func(suffix, cols string) string {
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s ON %s (%s)", table, suffix, table, cols)
	}
	return []string{
		idx("case_id", "case_id"),
		idx("data_source_id", "data_source_id"),
		idx("value", "value"),
		idx("value_known_status", "value, known_status"),
		FileObjectIndex(table),
	}
}

// FileObjectIndex returns the file_obj_id index statement of an instance table.
func FileObjectIndex(table string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_file_obj_id ON %s (file_obj_id)", table, table)
}

func (f *Factory) ExaminersTable() string {
	return "CREATE TABLE IF NOT EXISTS examiners (" +
		f.d.PrimaryKey() + "," +
		"login_name text NOT NULL," +
		"display_name text," +
		"CONSTRAINT login_name_unique UNIQUE(login_name))"
}

// PersonaTables returns the persona tables in dependency order.
func (f *Factory) PersonaTables() []string {
	big := f.d.BigInt()
	edge := func(name, cols, extra string) string {
		return "CREATE TABLE IF NOT EXISTS " + name + " (" +
			f.d.PrimaryKey() + "," +
			"persona_id " + big + " NOT NULL," +
			cols +
			"justification text NOT NULL," +
			"confidence_id integer NOT NULL," +
			"date_added " + big + " NOT NULL," +
			"examiner_id " + big + " NOT NULL," +
			extra +
			"FOREIGN KEY (persona_id) REFERENCES personas(id)," +
			"FOREIGN KEY (confidence_id) REFERENCES confidence(confidence_id)," +
			"FOREIGN KEY (examiner_id) REFERENCES examiners(id))"
	}
	return []string{
		"CREATE TABLE IF NOT EXISTS confidence (" +
			f.d.PrimaryKey() + "," +
			"confidence_id integer NOT NULL," +
			"description text," +
			"CONSTRAINT level_unique UNIQUE (confidence_id))",
		"CREATE TABLE IF NOT EXISTS persona_status (" +
			f.d.PrimaryKey() + "," +
			"status_id integer NOT NULL," +
			"status text NOT NULL," +
			"CONSTRAINT status_unique UNIQUE(status_id))",
		"CREATE TABLE IF NOT EXISTS personas (" +
			f.d.PrimaryKey() + "," +
			"uuid text NOT NULL," +
			"comment text NOT NULL," +
			"name text NOT NULL," +
			"created_date " + big + "," +
			"modified_date " + big + "," +
			"status_id integer NOT NULL," +
			"examiner_id " + big + " NOT NULL," +
			"CONSTRAINT uuid_unique UNIQUE(uuid)," +
			"FOREIGN KEY (status_id) REFERENCES persona_status(status_id)," +
			"FOREIGN KEY (examiner_id) REFERENCES examiners(id))",
		edge(PersonaAlias, "alias text NOT NULL,", ""),
		edge(PersonaMetadata, "name text NOT NULL,value text NOT NULL,", "CONSTRAINT unique_metadata UNIQUE(persona_id, name),"),
		edge(PersonaAccounts, "account_id "+big+" NOT NULL,", "FOREIGN KEY (account_id) REFERENCES accounts(id),"),
	}
}

// Create builds every table and index of a current-version repository and writes the
// db_info version markers. It does not seed default content; see InsertDefaults.
func (f *Factory) Create(ctx context.Context, q dialect.Querier) error {
	var stmts []string
	stmts = append(stmts, f.OrganizationsTable(), f.CasesTable())
	stmts = append(stmts, f.CasesIndexes()...)
	stmts = append(stmts, f.DataSourcesTable())
	stmts = append(stmts, f.DataSourcesIndexes()...)
	stmts = append(stmts, f.ReferenceSetsTable())
	stmts = append(stmts, f.ReferenceSetsIndexes()...)
	stmts = append(stmts, f.CorrelationTypesTable(), f.DBInfoTable(), f.AccountTypesTable(), f.AccountsTable())

	for _, t := range cr.DefaultCorrelationTypes() {
		if ref, ok := t.ReferenceTable(); ok {
			stmts = append(stmts, f.ReferenceTable(ref))
			stmts = append(stmts, f.ReferenceIndexes(ref)...)
		}
		stmts = append(stmts, f.InstanceTable(t))
		stmts = append(stmts, f.InstanceIndexes(t.InstanceTable())...)
	}

	stmts = append(stmts, f.ExaminersTable())
	stmts = append(stmts, f.PersonaTables()...)

	if err := Exec(ctx, q, stmts...); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	v := cr.CurrentSchema
	for _, kv := range [][2]string{
		{cr.SchemaMajorVersionKey, strconv.Itoa(v.Major)},
		{cr.SchemaMinorVersionKey, strconv.Itoa(v.Minor)},
		{cr.CreationSchemaMajorVersionKey, strconv.Itoa(v.Major)},
		{cr.CreationSchemaMinorVersionKey, strconv.Itoa(v.Minor)},
	} {
		if _, err := q.ExecContext(ctx, f.d.Rebind(f.d.InsertOrIgnore("db_info (name, value) VALUES (?, ?)")), kv[0], kv[1]); err != nil {
			return fmt.Errorf("writing %s: %w", kv[0], err)
		}
	}
	return nil
}

// Exec runs each statement in order, stopping at the first failure.
func Exec(ctx context.Context, q dialect.Querier, stmts ...string) error {
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("executing %q: %w", s, err)
		}
	}
	return nil
}
