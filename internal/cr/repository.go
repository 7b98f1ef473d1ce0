package cr

import (
	"context"
	"database/sql"
)

// RowFunc processes the rows of an ad hoc query. The rows are closed by the caller of RowFunc.
type RowFunc func(rows *sql.Rows) error

// Repository is the central repository storage contract.
// Lookups that find nothing return a nil result and a nil error.
type Repository interface {
	// Cases

	// GetOrCreateCase returns the stored case with c.UUID, inserting c when none exists.
	// Fields of an existing case are left untouched.
	GetOrCreateCase(ctx context.Context, c *Case) (*Case, error)
	GetCaseByUUID(ctx context.Context, uuid string) (*Case, error)
	GetCaseByID(ctx context.Context, id int64) (*Case, error)
	GetCases(ctx context.Context) ([]*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	BulkInsertCases(ctx context.Context, cases []*Case) error

	// Data sources

	// GetOrCreateDataSource returns the data source keyed by (case, object id), inserting ds when absent.
	GetOrCreateDataSource(ctx context.Context, ds *DataSource) (*DataSource, error)
	GetDataSource(ctx context.Context, caseID, objectID int64) (*DataSource, error)
	GetDataSourceByID(ctx context.Context, caseID, id int64) (*DataSource, error)
	GetDataSources(ctx context.Context) ([]*DataSource, error)
	UpdateDataSourceMD5(ctx context.Context, ds *DataSource) error
	UpdateDataSourceSHA1(ctx context.Context, ds *DataSource) error
	UpdateDataSourceSHA256(ctx context.Context, ds *DataSource) error
	UpdateDataSourceName(ctx context.Context, ds *DataSource, name string) error
	AddDataSourceObjectID(ctx context.Context, ds *DataSource, objectID int64) error

	// Instances

	AddAttributeInstance(ctx context.Context, inst *Instance) error
	AddAttributeInstanceBulk(ctx context.Context, inst *Instance) error
	CommitAttributeInstancesBulk(ctx context.Context) error
	GetArtifactInstancesByTypeValue(ctx context.Context, t CorrelationType, value string) ([]*Instance, error)
	GetArtifactInstancesByTypeValues(ctx context.Context, t CorrelationType, values []string) ([]*Instance, error)
	GetArtifactInstancesByTypeValuesAndCases(ctx context.Context, t CorrelationType, values []string, caseIDs []int64) ([]*Instance, error)
	GetCorrelationAttributeInstance(ctx context.Context, t CorrelationType, c *Case, ds *DataSource, value, filePath string) (*Instance, error)
	GetCorrelationAttributeInstanceByObjectID(ctx context.Context, t CorrelationType, c *Case, ds *DataSource, fileObjectID int64) (*Instance, error)
	UpdateAttributeInstanceComment(ctx context.Context, inst *Instance) error

	// SetAttributeInstanceKnownStatus tags an instance. When the instance is not stored,
	// its case and data source are created as needed and the instance is inserted.
	SetAttributeInstanceKnownStatus(ctx context.Context, inst *Instance, status KnownStatus) error

	// Statistics

	CountArtifactInstancesByTypeValue(ctx context.Context, t CorrelationType, value string) (int64, error)
	CountUniqueCaseDataSourceTuplesHavingTypeValue(ctx context.Context, t CorrelationType, value string) (int64, error)
	FrequencyPercentage(ctx context.Context, inst *Instance) (int, error)
	CountCasesWithOtherInstances(ctx context.Context, inst *Instance) (int64, error)
	CountUniqueDataSources(ctx context.Context) (int64, error)
	CountArtifactInstancesByCaseDataSource(ctx context.Context, dataSourceID int64) (int64, error)
	CountArtifactInstancesKnownBad(ctx context.Context, t CorrelationType, value string) (int64, error)
	GetListCasesHavingArtifactInstances(ctx context.Context, t CorrelationType, value string) ([]string, error)
	GetListCasesHavingArtifactInstancesKnownBad(ctx context.Context, t CorrelationType, value string) ([]string, error)

	// Reference sets

	NewReferenceSet(ctx context.Context, set *ReferenceSet) (int64, error)
	GetReferenceSetByID(ctx context.Context, id int64) (*ReferenceSet, error)
	GetAllReferenceSets(ctx context.Context, t CorrelationType) ([]*ReferenceSet, error)
	ReferenceSetExists(ctx context.Context, name, version string) (bool, error)
	ReferenceSetIsValid(ctx context.Context, id int64, name, version string) (bool, error)
	DeleteReferenceSet(ctx context.Context, id int64) error
	AddReferenceInstance(ctx context.Context, ri *ReferenceInstance, t CorrelationType) error

	// BulkInsertReferenceTypeEntries inserts every entry or none of them.
	BulkInsertReferenceTypeEntries(ctx context.Context, entries []*ReferenceInstance, t CorrelationType) error
	GetReferenceInstancesByTypeValue(ctx context.Context, t CorrelationType, value string) ([]*ReferenceInstance, error)
	IsFileHashInReferenceSet(ctx context.Context, hash string, setID int64) (bool, error)
	IsValueInReferenceSet(ctx context.Context, value string, setID int64, typeID int) (bool, error)
	LookupHash(ctx context.Context, hash string, setID int64) (*HashHit, error)
	IsArtifactKnownBadByReference(ctx context.Context, t CorrelationType, value string) (bool, error)

	// Organizations and examiners

	NewOrganization(ctx context.Context, org *Organization) (*Organization, error)
	GetOrganizations(ctx context.Context) ([]*Organization, error)
	GetOrganizationByID(ctx context.Context, id int64) (*Organization, error)
	GetReferenceSetOrganization(ctx context.Context, setID int64) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
	DeleteOrganization(ctx context.Context, org *Organization) error
	GetOrInsertExaminer(ctx context.Context, loginName string) (*Examiner, error)

	// Correlation types

	NewCorrelationType(ctx context.Context, t CorrelationType) (int, error)
	GetDefinedCorrelationTypes(ctx context.Context) ([]CorrelationType, error)
	GetEnabledCorrelationTypes(ctx context.Context) ([]CorrelationType, error)
	GetSupportedCorrelationTypes(ctx context.Context) ([]CorrelationType, error)
	UpdateCorrelationType(ctx context.Context, t CorrelationType) error
	GetCorrelationTypeByID(ctx context.Context, id int) (*CorrelationType, error)

	// Accounts and personas

	GetAccountTypeByName(ctx context.Context, name string) (*AccountType, error)
	GetAllAccountTypes(ctx context.Context) ([]*AccountType, error)
	GetOrCreateAccount(ctx context.Context, at AccountType, identifier string) (*Account, error)
	GetAccount(ctx context.Context, at AccountType, identifier string) (*Account, error)
	CreatePersona(ctx context.Context, p *Persona) (*Persona, error)
	GetPersonaByUUID(ctx context.Context, uuid string) (*Persona, error)
	GetPersonasByName(ctx context.Context, partial string) ([]*Persona, error)
	GetPersonasByAccountIdentifier(ctx context.Context, partial string) ([]*Persona, error)
	UpdatePersonaName(ctx context.Context, p *Persona, name string) error
	UpdatePersonaComment(ctx context.Context, p *Persona, comment string) error
	SetPersonaStatus(ctx context.Context, p *Persona, status PersonaStatus) error
	DeletePersona(ctx context.Context, p *Persona) error
	AddPersonaAlias(ctx context.Context, a *PersonaAlias) (*PersonaAlias, error)
	GetPersonaAliases(ctx context.Context, personaID int64) ([]*PersonaAlias, error)
	AddPersonaMetadata(ctx context.Context, m *PersonaMetadata) (*PersonaMetadata, error)
	GetPersonaMetadata(ctx context.Context, personaID int64) ([]*PersonaMetadata, error)
	AddPersonaAccount(ctx context.Context, pa *PersonaAccount) (*PersonaAccount, error)
	GetPersonaAccounts(ctx context.Context, personaID int64) ([]*PersonaAccount, error)
	GetCaseIDsForAccount(ctx context.Context, accountID int64) ([]int64, error)

	// Ad hoc queries

	ProcessInstanceTable(ctx context.Context, t CorrelationType, fn RowFunc) error
	ProcessInstanceTableWhere(ctx context.Context, t CorrelationType, where string, args []any, fn RowFunc) error
	ProcessSelectClause(ctx context.Context, selectClause string, args []any, fn RowFunc) error
	ExecuteCommand(ctx context.Context, query string, args ...any) error
	ExecuteQuery(ctx context.Context, query string, args []any, fn RowFunc) error

	// Repository metadata and lifecycle

	NewDBInfo(ctx context.Context, name, value string) error
	GetDBInfo(ctx context.Context, name string) (string, bool, error)
	UpdateDBInfo(ctx context.Context, name, value string) error
	SchemaVersion(ctx context.Context) (SchemaVersion, error)
	ClearCaches()
	Reset(ctx context.Context) error
	Close() error
}
