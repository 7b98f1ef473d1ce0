package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

func instanceColumns(t cr.CorrelationType) string {
	account := "NULL"
	if t.HasAccount() {
		account = "t.account_id"
	}
	return "t.id, t.value, t.file_path, t.known_status, t.comment, t.file_obj_id, " + account + ", " +
		caseColumns + ", " + dataSourceColumns
}

func instanceFrom(t cr.CorrelationType) string {
	return " FROM " + t.InstanceTable() + " t" +
		" LEFT JOIN cases ON t.case_id = cases.id" +
		" LEFT JOIN organizations ON cases.org_id = organizations.id" +
		" LEFT JOIN data_sources ON t.data_source_id = data_sources.id"
}

func scanInstance(sc scanner, t cr.CorrelationType) (*cr.Instance, error) {
	var (
		inst      cr.Instance
		known     int
		comment   sql.NullString
		fileObjID sql.NullInt64
		accountID sql.NullInt64
		c         caseRow
		ds        dataSourceRow
	)
	dest := []any{&inst.ID, &inst.Value, &inst.FilePath, &known, &comment, &fileObjID, &accountID}
	dest = append(dest, c.dest()...)
	dest = append(dest, ds.dest()...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	ks, err := cr.KnownStatusFromInt(known)
	if err != nil {
		return nil, err
	}
	inst.Type = t
	inst.KnownStatus = ks
	inst.Comment = comment.String
	inst.FileObjectID = fileObjID.Int64
	inst.AccountID = accountID.Int64
	inst.Case = c.toCase()
	inst.DataSource = ds.toDataSource()
	return &inst, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// prepareInstance validates inst and returns its normalized value. skip is true for
// an empty value, which callers treat as a no-op.
func prepareInstance(inst *cr.Instance) (value string, skip bool, err error) {
	if inst == nil {
		return "", false, &cr.ValidationError{Field: "instance", Reason: "is nil"}
	}
	if err := inst.Type.Validate(); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(inst.Value) == "" {
		return "", true, nil
	}
	value, err = cr.Normalize(inst.Type.ID, inst.Value)
	if err != nil {
		return "", false, err
	}
	if cr.ValueTooLong(value) {
		return "", false, &cr.ValidationError{Field: "value", Reason: fmt.Sprintf("exceeds %d characters", cr.MaxValueLength-1)}
	}
	if inst.Case == nil {
		return "", false, &cr.ValidationError{Field: "case", Reason: "is required"}
	}
	if inst.DataSource == nil {
		return "", false, &cr.ValidationError{Field: "data source", Reason: "is required"}
	}
	if !inst.KnownStatus.Valid() {
		return "", false, &cr.ValidationError{Field: "known status", Reason: fmt.Sprintf("%d is out of range", int(inst.KnownStatus))}
	}
	return value, false, nil
}

func requireStored(inst *cr.Instance) error {
	if inst.Case.ID <= 0 {
		return &cr.ValidationError{Field: "case", Reason: "must be stored"}
	}
	if inst.DataSource.ID <= 0 {
		return &cr.ValidationError{Field: "data source", Reason: "must be stored"}
	}
	return nil
}

func (s *Store) insertInstance(ctx context.Context, q dialect.Querier, inst *cr.Instance, value string) error {
	t := inst.Type
	cols := "case_id, data_source_id, value, file_path, known_status, comment, file_obj_id"
	args := []any{
		inst.Case.ID, inst.DataSource.ID, value, strings.ToLower(inst.FilePath),
		int(inst.KnownStatus), nullString(inst.Comment), inst.FileObjectID,
	}
	if t.HasAccount() {
		cols += ", account_id"
		args = append(args, nullID(inst.AccountID))
	}
	query := "INSERT INTO " + t.InstanceTable() + " (" + cols + ") VALUES (" + placeholders(len(args)) + ") " + s.d.ConflictClause()
	if _, err := q.ExecContext(ctx, s.q(query), args...); err != nil && !s.d.IsUniqueViolation(err) {
		return cr.NewStorageError("inserting "+t.DisplayName+" instance", err)
	}
	return nil
}

// AddAttributeInstance stores one instance. Duplicates of (data source, value, path)
// are skipped silently.
func (s *Store) AddAttributeInstance(ctx context.Context, inst *cr.Instance) error {
	value, skip, err := prepareInstance(inst)
	if err != nil || skip {
		return err
	}
	if err := requireStored(inst); err != nil {
		return err
	}
	defer s.writeLock()()

	return s.withConn(ctx, func(c Conn) error {
		return s.insertInstance(ctx, c, inst, value)
	})
}

func (s *Store) queryInstances(ctx context.Context, t cr.CorrelationType, where string, args ...any) ([]*cr.Instance, error) {
	var out []*cr.Instance
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, s.q("SELECT "+instanceColumns(t)+instanceFrom(t)+" WHERE "+where), args...)
		if err != nil {
			return cr.NewStorageError("getting "+t.DisplayName+" instances", err)
		}
		defer rows.Close()
		for rows.Next() {
			inst, err := scanInstance(rows, t)
			if err != nil {
				return cr.NewStorageError("scanning instance", err)
			}
			out = append(out, inst)
		}
		return cr.NewStorageError("getting "+t.DisplayName+" instances", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeAll(typeID int, values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		n, err := cr.Normalize(typeID, v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) GetArtifactInstancesByTypeValue(ctx context.Context, t cr.CorrelationType, value string) ([]*cr.Instance, error) {
	return s.GetArtifactInstancesByTypeValuesAndCases(ctx, t, []string{value}, nil)
}

func (s *Store) GetArtifactInstancesByTypeValues(ctx context.Context, t cr.CorrelationType, values []string) ([]*cr.Instance, error) {
	return s.GetArtifactInstancesByTypeValuesAndCases(ctx, t, values, nil)
}

// GetArtifactInstancesByTypeValuesAndCases returns every instance of t whose value is
// one of values, limited to caseIDs when it is non-empty.
func (s *Store) GetArtifactInstancesByTypeValuesAndCases(ctx context.Context, t cr.CorrelationType, values []string, caseIDs []int64) ([]*cr.Instance, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	normalized, err := normalizeAll(t.ID, values)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()

	where := "t.value IN (" + placeholders(len(normalized)) + ")"
	args := make([]any, 0, len(normalized)+len(caseIDs))
	for _, v := range normalized {
		args = append(args, v)
	}
	if len(caseIDs) > 0 {
		where += " AND t.case_id IN (" + placeholders(len(caseIDs)) + ")"
		for _, id := range caseIDs {
			args = append(args, id)
		}
	}
	return s.queryInstances(ctx, t, where, args...)
}

func (s *Store) GetCorrelationAttributeInstance(ctx context.Context, t cr.CorrelationType, c *cr.Case, ds *cr.DataSource, value, filePath string) (*cr.Instance, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if c == nil || ds == nil {
		return nil, &cr.ValidationError{Field: "case and data source", Reason: "are required"}
	}
	normalized, err := cr.Normalize(t.ID, value)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()

	found, err := s.queryInstances(ctx, t, "t.case_id = ? AND t.data_source_id = ? AND t.value = ? AND t.file_path = ?",
		c.ID, ds.ID, normalized, strings.ToLower(filePath))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

func (s *Store) GetCorrelationAttributeInstanceByObjectID(ctx context.Context, t cr.CorrelationType, c *cr.Case, ds *cr.DataSource, fileObjectID int64) (*cr.Instance, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if c == nil || ds == nil {
		return nil, &cr.ValidationError{Field: "case and data source", Reason: "are required"}
	}
	defer s.readLock()()

	found, err := s.queryInstances(ctx, t, "t.case_id = ? AND t.data_source_id = ? AND t.file_obj_id = ?",
		c.ID, ds.ID, fileObjectID)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// UpdateAttributeInstanceComment sets the comment of the instance matching
// (case, data source, value, path).
func (s *Store) UpdateAttributeInstanceComment(ctx context.Context, inst *cr.Instance) error {
	value, skip, err := prepareInstance(inst)
	if err != nil {
		return err
	}
	if skip {
		return &cr.ValidationError{Field: "value", Reason: "is required"}
	}
	if err := requireStored(inst); err != nil {
		return err
	}
	defer s.writeLock()()

	return s.withConn(ctx, func(c Conn) error {
		query := "UPDATE " + inst.Type.InstanceTable() + " SET comment = ? " +
			"WHERE case_id = ? AND data_source_id = ? AND value = ? AND file_path = ?"
		_, err := c.ExecContext(ctx, s.q(query), nullString(inst.Comment),
			inst.Case.ID, inst.DataSource.ID, value, strings.ToLower(inst.FilePath))
		if err != nil {
			return cr.NewStorageError("updating instance comment", err)
		}
		return nil
	})
}

// SetAttributeInstanceKnownStatus tags an instance. A stored instance is updated in
// place; otherwise the case and data source are created as needed and the
// instance is inserted with the new status.
func (s *Store) SetAttributeInstanceKnownStatus(ctx context.Context, inst *cr.Instance, status cr.KnownStatus) error {
	if !status.Valid() {
		return &cr.ValidationError{Field: "known status", Reason: fmt.Sprintf("%d is out of range", int(status))}
	}
	value, skip, err := prepareInstance(inst)
	if err != nil {
		return err
	}
	if skip {
		return &cr.ValidationError{Field: "value", Reason: "is required"}
	}
	defer s.writeLock()()

	table := inst.Type.InstanceTable()
	path := strings.ToLower(inst.FilePath)

	var rowID int64
	if inst.Case.ID > 0 && inst.DataSource.ID > 0 {
		err := s.withConn(ctx, func(c Conn) error {
			query := "SELECT id FROM " + table + " WHERE case_id = ? AND data_source_id = ? AND value = ? AND file_path = ?"
			err := c.QueryRowContext(ctx, s.q(query), inst.Case.ID, inst.DataSource.ID, value, path).Scan(&rowID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return cr.NewStorageError("finding instance", err)
		})
		if err != nil {
			return err
		}
	}

	if rowID > 0 {
		err := s.withConn(ctx, func(c Conn) error {
			query := "UPDATE " + table + " SET known_status = ? WHERE id = ?"
			args := []any{int(status), rowID}
			if inst.Comment != "" {
				query = "UPDATE " + table + " SET known_status = ?, comment = ? WHERE id = ?"
				args = []any{int(status), inst.Comment, rowID}
			}
			if _, err := c.ExecContext(ctx, s.q(query), args...); err != nil {
				return cr.NewStorageError("setting known status", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		inst.KnownStatus = status
		return nil
	}

	if inst.Case.ID <= 0 {
		created, err := s.getOrCreateCase(ctx, inst.Case)
		if err != nil {
			return err
		}
		s.logger.Info("created case while tagging instance", "case_uid", created.UUID)
		inst.Case = created
	}
	if inst.DataSource.ID <= 0 {
		ds := *inst.DataSource
		ds.CaseID = inst.Case.ID
		created, err := s.getOrCreateDataSource(ctx, &ds)
		if err != nil {
			return err
		}
		s.logger.Info("created data source while tagging instance", "case_uid", inst.Case.UUID, "datasource_obj_id", created.ObjectID)
		inst.DataSource = created
	}

	inst.KnownStatus = status
	return s.withConn(ctx, func(c Conn) error {
		return s.insertInstance(ctx, c, inst, value)
	})
}
