package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

const referenceSetColumns = "id, org_id, set_name, version, known_status, read_only, type, import_date"

func (s *Store) queryReferenceSets(ctx context.Context, op, where string, args ...any) ([]*cr.ReferenceSet, error) {
	// Types are resolved once the rows are closed.
	type row struct {
		set    cr.ReferenceSet
		known  int
		typeID int
	}
	var rowsOut []row
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, s.q("SELECT "+referenceSetColumns+" FROM reference_sets WHERE "+where+" ORDER BY id"), args...)
		if err != nil {
			return cr.NewStorageError(op, err)
		}
		defer rows.Close()
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.set.ID, &r.set.OrgID, &r.set.Name, &r.set.Version, &r.known, &r.set.ReadOnly, &r.typeID, &r.set.ImportDate); err != nil {
				return cr.NewStorageError("scanning reference set", err)
			}
			rowsOut = append(rowsOut, r)
		}
		return cr.NewStorageError(op, rows.Err())
	})
	if err != nil {
		return nil, err
	}
	sets := make([]*cr.ReferenceSet, 0, len(rowsOut))
	for _, r := range rowsOut {
		set := r.set
		ks, err := knownStatusPtr(r.known)
		if err != nil {
			return nil, cr.NewStorageError(op, err)
		}
		set.KnownStatus = ks
		t, err := s.correlationTypeByID(ctx, r.typeID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, cr.NewStorageError(op, fmt.Errorf("reference set %d has unknown correlation type %d", set.ID, r.typeID))
		}
		set.Type = t
		sets = append(sets, &set)
	}
	return sets, nil
}

// NewReferenceSet stores set and returns its id. A set with the same name and
// version already present is reported as cr.ErrConstraintConflict.
func (s *Store) NewReferenceSet(ctx context.Context, set *cr.ReferenceSet) (int64, error) {
	switch {
	case set == nil:
		return 0, &cr.ValidationError{Field: "reference set", Reason: "is nil"}
	case set.Name == "":
		return 0, &cr.ValidationError{Field: "reference set name", Reason: "is required"}
	case set.OrgID <= 0:
		return 0, &cr.ValidationError{Field: "reference set organization", Reason: "is required"}
	case set.KnownStatus == nil:
		return 0, &cr.ValidationError{Field: "reference set known status", Reason: "is required"}
	case set.Type == nil:
		return 0, &cr.ValidationError{Field: "reference set type", Reason: "is required"}
	}
	if set.ImportDate == "" {
		set.ImportDate = s.clock.Now().Format(time.DateOnly)
	}
	defer s.writeLock()()

	var id int64
	err := s.withConn(ctx, func(c Conn) error {
		query := "INSERT INTO reference_sets (org_id, set_name, version, known_status, read_only, type, import_date) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?) " + s.d.ConflictClause()
		_, err := c.ExecContext(ctx, s.q(query), set.OrgID, set.Name, set.Version, int(*set.KnownStatus),
			set.ReadOnly, set.Type.ID, set.ImportDate)
		if err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("reference set %s %s: %w", set.Name, set.Version, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("inserting reference set", err)
		}
		query = "SELECT id FROM reference_sets WHERE org_id = ? AND set_name = ? AND version = ? AND import_date = ?"
		err = c.QueryRowContext(ctx, s.q(query), set.OrgID, set.Name, set.Version, set.ImportDate).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reference set %s %s: %w", set.Name, set.Version, cr.ErrConstraintConflict)
		}
		return cr.NewStorageError("reading reference set id", err)
	})
	if err != nil {
		return 0, err
	}
	set.ID = id
	return id, nil
}

func (s *Store) GetReferenceSetByID(ctx context.Context, id int64) (*cr.ReferenceSet, error) {
	defer s.readLock()()

	sets, err := s.queryReferenceSets(ctx, "getting reference set", "id = ?", id)
	if err != nil || len(sets) == 0 {
		return nil, err
	}
	return sets[0], nil
}

func (s *Store) GetAllReferenceSets(ctx context.Context, t cr.CorrelationType) ([]*cr.ReferenceSet, error) {
	defer s.readLock()()
	return s.queryReferenceSets(ctx, "getting reference sets", "type = ?", t.ID)
}

func (s *Store) ReferenceSetExists(ctx context.Context, name, version string) (bool, error) {
	defer s.readLock()()

	n, err := s.count(ctx, "checking reference set",
		"SELECT COUNT(*) FROM reference_sets WHERE set_name = ? AND version = ?", name, version)
	return n > 0, err
}

// ReferenceSetIsValid reports whether the set with id still carries name and version.
func (s *Store) ReferenceSetIsValid(ctx context.Context, id int64, name, version string) (bool, error) {
	defer s.readLock()()

	n, err := s.count(ctx, "validating reference set",
		"SELECT COUNT(*) FROM reference_sets WHERE id = ? AND set_name = ? AND version = ?", id, name, version)
	return n > 0, err
}

// DeleteReferenceSet removes the entries of a set, then the set itself.
func (s *Store) DeleteReferenceSet(ctx context.Context, id int64) error {
	defer s.writeLock()()

	types, err := s.correlationTypes(ctx)
	if err != nil {
		return err
	}
	return s.withTx(ctx, "deleting reference set", func(tx dialect.Querier) error {
		for _, t := range types {
			table, ok := t.ReferenceTable()
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, s.q("DELETE FROM "+table+" WHERE reference_set_id = ?"), id); err != nil {
				return cr.NewStorageError("deleting reference entries", err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM reference_sets WHERE id = ?"), id); err != nil {
			return cr.NewStorageError("deleting reference set", err)
		}
		return nil
	})
}

func referenceTable(t cr.CorrelationType) (string, error) {
	table, ok := t.ReferenceTable()
	if !ok {
		return "", &cr.ValidationError{Field: "correlation type", Reason: t.DisplayName + " has no reference table"}
	}
	return table, nil
}

func prepareReferenceInstance(ri *cr.ReferenceInstance, t cr.CorrelationType) (string, error) {
	switch {
	case ri == nil:
		return "", &cr.ValidationError{Field: "reference instance", Reason: "is nil"}
	case ri.SetID <= 0:
		return "", &cr.ValidationError{Field: "reference set id", Reason: "is required"}
	case ri.KnownStatus == nil:
		return "", &cr.ValidationError{Field: "reference known status", Reason: "is required"}
	}
	return cr.Normalize(t.ID, ri.Value)
}

// AddReferenceInstance stores one reference value. Duplicates within a set are skipped.
func (s *Store) AddReferenceInstance(ctx context.Context, ri *cr.ReferenceInstance, t cr.CorrelationType) error {
	table, err := referenceTable(t)
	if err != nil {
		return err
	}
	value, err := prepareReferenceInstance(ri, t)
	if err != nil {
		return err
	}
	defer s.writeLock()()

	return s.withConn(ctx, func(c Conn) error {
		query := s.d.InsertOrIgnore(table + " (reference_set_id, value, known_status, comment) VALUES (?, ?, ?, ?)")
		if _, err := c.ExecContext(ctx, s.q(query), ri.SetID, value, int(*ri.KnownStatus), nullString(ri.Comment)); err != nil {
			return cr.NewStorageError("inserting reference instance", err)
		}
		return nil
	})
}

// BulkInsertReferenceTypeEntries writes entries in one transaction. An invalid entry
// or a duplicate within a set rolls back the whole batch.
func (s *Store) BulkInsertReferenceTypeEntries(ctx context.Context, entries []*cr.ReferenceInstance, t cr.CorrelationType) error {
	table, err := referenceTable(t)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	defer s.writeLock()()

	query := s.q(s.d.InsertOrAbort(table + " (reference_set_id, value, known_status, comment) VALUES (?, ?, ?, ?)"))
	err = s.withTx(ctx, "bulk inserting reference entries", func(tx dialect.Querier) error {
		for _, ri := range entries {
			value, err := prepareReferenceInstance(ri, t)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, ri.SetID, value, int(*ri.KnownStatus), nullString(ri.Comment)); err != nil {
				if s.d.IsUniqueViolation(err) {
					return fmt.Errorf("reference value %s in set %d: %w", value, ri.SetID, cr.ErrConstraintConflict)
				}
				return cr.NewStorageError("inserting reference entry", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("reference entries imported", "table", table, "count", len(entries))
	return nil
}

// GetReferenceInstancesByTypeValue returns the reference entries matching value. Types
// without a reference table have none.
func (s *Store) GetReferenceInstancesByTypeValue(ctx context.Context, t cr.CorrelationType, value string) ([]*cr.ReferenceInstance, error) {
	table, ok := t.ReferenceTable()
	if !ok {
		return nil, nil
	}
	v, err := cr.Normalize(t.ID, value)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()

	var out []*cr.ReferenceInstance
	err = s.withConn(ctx, func(c Conn) error {
		query := "SELECT id, reference_set_id, value, known_status, comment FROM " + table + " WHERE value = ? ORDER BY id"
		rows, err := c.QueryContext(ctx, s.q(query), v)
		if err != nil {
			return cr.NewStorageError("getting reference instances", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				ri      cr.ReferenceInstance
				known   int
				comment sql.NullString
			)
			if err := rows.Scan(&ri.ID, &ri.SetID, &ri.Value, &known, &comment); err != nil {
				return cr.NewStorageError("scanning reference instance", err)
			}
			if ri.KnownStatus, err = knownStatusPtr(known); err != nil {
				return cr.NewStorageError("scanning reference instance", err)
			}
			ri.Comment = comment.String
			out = append(out, &ri)
		}
		return cr.NewStorageError("getting reference instances", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) IsFileHashInReferenceSet(ctx context.Context, hash string, setID int64) (bool, error) {
	return s.IsValueInReferenceSet(ctx, hash, setID, cr.FilesTypeID)
}

func (s *Store) IsValueInReferenceSet(ctx context.Context, value string, setID int64, typeID int) (bool, error) {
	defer s.readLock()()

	t, err := s.correlationTypeByID(ctx, typeID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, &cr.ValidationError{Field: "correlation type", Reason: fmt.Sprintf("%d is not defined", typeID)}
	}
	table, ok := t.ReferenceTable()
	if !ok {
		return false, nil
	}
	v, err := cr.Normalize(typeID, value)
	if err != nil {
		return false, err
	}
	n, err := s.count(ctx, "checking reference value",
		"SELECT COUNT(*) FROM "+table+" WHERE value = ? AND reference_set_id = ?", v, setID)
	return n > 0, err
}

// LookupHash returns the hash with the comments of every matching entry in the set, or
// nil when the set does not hold it.
func (s *Store) LookupHash(ctx context.Context, hash string, setID int64) (*cr.HashHit, error) {
	v, err := cr.Normalize(cr.FilesTypeID, hash)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()

	var hit *cr.HashHit
	err = s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, s.q("SELECT comment FROM reference_file WHERE value = ? AND reference_set_id = ?"), v, setID)
		if err != nil {
			return cr.NewStorageError("looking up hash", err)
		}
		defer rows.Close()
		for rows.Next() {
			var comment sql.NullString
			if err := rows.Scan(&comment); err != nil {
				return cr.NewStorageError("scanning hash comment", err)
			}
			if hit == nil {
				hit = &cr.HashHit{Value: v, SetID: setID}
			}
			if comment.String != "" {
				hit.Comments = append(hit.Comments, comment.String)
			}
		}
		return cr.NewStorageError("looking up hash", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return hit, nil
}

// IsArtifactKnownBadByReference reports whether any reference set tags value as bad.
// Only the files type has reference data.
func (s *Store) IsArtifactKnownBadByReference(ctx context.Context, t cr.CorrelationType, value string) (bool, error) {
	table, ok := t.ReferenceTable()
	if !ok {
		return false, nil
	}
	v, err := cr.Normalize(t.ID, value)
	if err != nil {
		return false, err
	}
	defer s.readLock()()

	n, err := s.count(ctx, "checking known bad reference",
		"SELECT COUNT(*) FROM "+table+" WHERE value = ? AND known_status = ?", v, int(cr.KnownStatusBad))
	return n > 0, err
}
