package database

import (
	"database/sql"

	"crepo/internal/cr"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullID stores non-positive ids as NULL.
func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

const caseColumns = "cases.id, cases.case_uid, cases.case_name, cases.creation_date, cases.case_number, " +
	"cases.examiner_name, cases.examiner_email, cases.examiner_phone, cases.notes, " +
	"organizations.id, organizations.org_name, organizations.poc_name, organizations.poc_email, organizations.poc_phone"

const caseFrom = " FROM cases LEFT JOIN organizations ON cases.org_id = organizations.id"

type caseRow struct {
	id                                   sql.NullInt64
	uuid, name, created                  sql.NullString
	number, exName, exEmail, exPhone, nt sql.NullString
	orgID                                sql.NullInt64
	orgName, pocName, pocEmail, pocPhone sql.NullString
}

func (r *caseRow) dest() []any {
	return []any{
		&r.id, &r.uuid, &r.name, &r.created, &r.number, &r.exName, &r.exEmail, &r.exPhone, &r.nt,
		&r.orgID, &r.orgName, &r.pocName, &r.pocEmail, &r.pocPhone,
	}
}

// toCase returns nil when the joined case row is absent.
func (r *caseRow) toCase() *cr.Case {
	if !r.id.Valid {
		return nil
	}
	c := &cr.Case{
		ID:            r.id.Int64,
		UUID:          r.uuid.String,
		DisplayName:   r.name.String,
		CreationDate:  r.created.String,
		CaseNumber:    r.number.String,
		ExaminerName:  r.exName.String,
		ExaminerEmail: r.exEmail.String,
		ExaminerPhone: r.exPhone.String,
		Notes:         r.nt.String,
	}
	if r.orgID.Valid {
		c.Org = &cr.Organization{
			ID:       r.orgID.Int64,
			Name:     r.orgName.String,
			POCName:  r.pocName.String,
			POCEmail: r.pocEmail.String,
			POCPhone: r.pocPhone.String,
		}
	}
	return c
}

func scanCase(sc scanner) (*cr.Case, error) {
	var r caseRow
	if err := sc.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.toCase(), nil
}

const dataSourceColumns = "data_sources.id, data_sources.case_id, data_sources.device_id, data_sources.name, " +
	"data_sources.datasource_obj_id, data_sources.md5, data_sources.sha1, data_sources.sha256"

type dataSourceRow struct {
	id, caseID        sql.NullInt64
	deviceID, name    sql.NullString
	objectID          sql.NullInt64
	md5, sha1, sha256 sql.NullString
}

func (r *dataSourceRow) dest() []any {
	return []any{&r.id, &r.caseID, &r.deviceID, &r.name, &r.objectID, &r.md5, &r.sha1, &r.sha256}
}

func (r *dataSourceRow) toDataSource() *cr.DataSource {
	if !r.id.Valid {
		return nil
	}
	return &cr.DataSource{
		ID:       r.id.Int64,
		CaseID:   r.caseID.Int64,
		DeviceID: r.deviceID.String,
		Name:     r.name.String,
		ObjectID: r.objectID.Int64,
		MD5:      r.md5.String,
		SHA1:     r.sha1.String,
		SHA256:   r.sha256.String,
	}
}

func scanDataSource(sc scanner) (*cr.DataSource, error) {
	var r dataSourceRow
	if err := sc.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.toDataSource(), nil
}

func scanOrganization(sc scanner) (*cr.Organization, error) {
	var (
		org                         cr.Organization
		pocName, pocEmail, pocPhone sql.NullString
	)
	if err := sc.Scan(&org.ID, &org.Name, &pocName, &pocEmail, &pocPhone); err != nil {
		return nil, err
	}
	org.POCName = pocName.String
	org.POCEmail = pocEmail.String
	org.POCPhone = pocPhone.String
	return &org, nil
}

func scanCorrelationType(sc scanner) (cr.CorrelationType, error) {
	var (
		t                  cr.CorrelationType
		supported, enabled int
	)
	if err := sc.Scan(&t.ID, &t.DisplayName, &t.TableName, &supported, &enabled); err != nil {
		return cr.CorrelationType{}, err
	}
	t.Supported = supported != 0
	t.Enabled = enabled != 0
	return t, nil
}

func knownStatusPtr(v int) (*cr.KnownStatus, error) {
	ks, err := cr.KnownStatusFromInt(v)
	if err != nil {
		return nil, err
	}
	return &ks, nil
}
