package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

func validateCase(c *cr.Case) error {
	if c == nil {
		return &cr.ValidationError{Field: "case", Reason: "is nil"}
	}
	if c.UUID == "" {
		return &cr.ValidationError{Field: "case uuid", Reason: "is required"}
	}
	if c.DisplayName == "" {
		return &cr.ValidationError{Field: "case name", Reason: "is required"}
	}
	return nil
}

func caseOrgID(c *cr.Case) int64 {
	if c.Org == nil {
		return 0
	}
	return c.Org.ID
}

func (s *Store) insertCase(ctx context.Context, q dialect.Querier, c *cr.Case) error {
	query := "INSERT INTO cases (case_uid, org_id, case_name, creation_date, case_number, " +
		"examiner_name, examiner_email, examiner_phone, notes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) " + s.d.ConflictClause()
	_, err := q.ExecContext(ctx, s.q(query),
		c.UUID, nullID(caseOrgID(c)), c.DisplayName, c.CreationDate, nullString(c.CaseNumber),
		nullString(c.ExaminerName), nullString(c.ExaminerEmail), nullString(c.ExaminerPhone), nullString(c.Notes))
	if err != nil && !s.d.IsUniqueViolation(err) {
		return cr.NewStorageError("inserting case", err)
	}
	return nil
}

func (s *Store) queryCaseByUUID(ctx context.Context, q dialect.Querier, uuid string) (*cr.Case, error) {
	cs, err := scanCase(q.QueryRowContext(ctx, s.q("SELECT "+caseColumns+caseFrom+" WHERE cases.case_uid = ?"), uuid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting case by uuid", err)
	}
	return cs, nil
}

func (s *Store) queryCaseByID(ctx context.Context, q dialect.Querier, id int64) (*cr.Case, error) {
	cs, err := scanCase(q.QueryRowContext(ctx, s.q("SELECT "+caseColumns+caseFrom+" WHERE cases.id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting case by id", err)
	}
	return cs, nil
}

// getCaseByUUID is the unlocked, cache-first lookup. Concurrent misses on the same
// UUID share one query.
func (s *Store) getCaseByUUID(ctx context.Context, uuid string) (*cr.Case, error) {
	if c, ok := s.cache.getCaseByUUID(uuid); ok {
		return c, nil
	}
	v, err, _ := s.cache.group.Do("case-uuid:"+uuid, func() (any, error) {
		var found *cr.Case
		err := s.withConn(ctx, func(c Conn) error {
			var err error
			found, err = s.queryCaseByUUID(ctx, c, uuid)
			return err
		})
		if err != nil {
			return nil, err
		}
		if found == nil {
			s.cache.putCaseAbsentByUUID(uuid)
			return found, nil
		}
		s.cache.putCase(found)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	if found := v.(*cr.Case); found != nil {
		return cloneCase(*found), nil
	}
	return nil, nil
}

func (s *Store) getCaseByID(ctx context.Context, id int64) (*cr.Case, error) {
	if c, ok := s.cache.getCaseByID(id); ok {
		return c, nil
	}
	v, err, _ := s.cache.group.Do("case-id:"+strconv.FormatInt(id, 10), func() (any, error) {
		var found *cr.Case
		err := s.withConn(ctx, func(c Conn) error {
			var err error
			found, err = s.queryCaseByID(ctx, c, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		if found == nil {
			s.cache.putCaseAbsentByID(id)
			return found, nil
		}
		s.cache.putCase(found)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	if found := v.(*cr.Case); found != nil {
		return cloneCase(*found), nil
	}
	return nil, nil
}

// getOrCreateCase is the unlocked body of GetOrCreateCase.
func (s *Store) getOrCreateCase(ctx context.Context, c *cr.Case) (*cr.Case, error) {
	if err := validateCase(c); err != nil {
		return nil, err
	}
	existing, err := s.getCaseByUUID(ctx, c.UUID)
	if err != nil || existing != nil {
		return existing, err
	}

	var created *cr.Case
	err = s.withConn(ctx, func(conn Conn) error {
		if err := s.insertCase(ctx, conn, c); err != nil {
			return err
		}
		// Re-select so a racing creator's row wins.
		var err error
		created, err = s.queryCaseByUUID(ctx, conn, c.UUID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, cr.NewStorageError("creating case", errors.New("case missing after insert"))
	}
	s.cache.putCase(created)
	return created, nil
}

func (s *Store) GetOrCreateCase(ctx context.Context, c *cr.Case) (*cr.Case, error) {
	defer s.writeLock()()
	return s.getOrCreateCase(ctx, c)
}

func (s *Store) GetCaseByUUID(ctx context.Context, uuid string) (*cr.Case, error) {
	if uuid == "" {
		return nil, &cr.ValidationError{Field: "case uuid", Reason: "is required"}
	}
	defer s.readLock()()
	return s.getCaseByUUID(ctx, uuid)
}

func (s *Store) GetCaseByID(ctx context.Context, id int64) (*cr.Case, error) {
	defer s.readLock()()
	return s.getCaseByID(ctx, id)
}

func (s *Store) GetCases(ctx context.Context) ([]*cr.Case, error) {
	defer s.readLock()()

	var cases []*cr.Case
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, "SELECT "+caseColumns+caseFrom+" ORDER BY cases.case_name")
		if err != nil {
			return cr.NewStorageError("getting cases", err)
		}
		defer rows.Close()
		for rows.Next() {
			cs, err := scanCase(rows)
			if err != nil {
				return cr.NewStorageError("scanning case", err)
			}
			cases = append(cases, cs)
		}
		return cr.NewStorageError("getting cases", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// UpdateCase writes every mutable column by UUID and refreshes both case caches.
func (s *Store) UpdateCase(ctx context.Context, c *cr.Case) error {
	if err := validateCase(c); err != nil {
		return err
	}
	defer s.writeLock()()

	var updated *cr.Case
	err := s.withConn(ctx, func(conn Conn) error {
		query := "UPDATE cases SET org_id = ?, case_name = ?, creation_date = ?, case_number = ?, " +
			"examiner_name = ?, examiner_email = ?, examiner_phone = ?, notes = ? WHERE case_uid = ?"
		_, err := conn.ExecContext(ctx, s.q(query),
			nullID(caseOrgID(c)), c.DisplayName, c.CreationDate, nullString(c.CaseNumber),
			nullString(c.ExaminerName), nullString(c.ExaminerEmail), nullString(c.ExaminerPhone), nullString(c.Notes),
			c.UUID)
		if err != nil {
			return cr.NewStorageError("updating case", err)
		}
		updated, err = s.queryCaseByUUID(ctx, conn, c.UUID)
		return err
	})
	if err != nil {
		return err
	}
	if updated != nil {
		s.cache.putCase(updated)
	}
	return nil
}

// BulkInsertCases inserts cases in chunks of the bulk threshold, one transaction per
// chunk. Cases whose UUID already exists are skipped.
func (s *Store) BulkInsertCases(ctx context.Context, cases []*cr.Case) error {
	for _, c := range cases {
		if err := validateCase(c); err != nil {
			return err
		}
	}
	defer s.writeLock()()

	size := s.bulk.threshold
	for start := 0; start < len(cases); start += size {
		end := min(start+size, len(cases))
		chunk := cases[start:end]
		err := s.withTx(ctx, "bulk inserting cases", func(tx dialect.Querier) error {
			for _, c := range chunk {
				if err := s.insertCase(ctx, tx, c); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.cache.clearCases()
			return err
		}
	}
	// Inserted cases may have been cached as absent.
	s.cache.clearCases()
	return nil
}
