package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

const organizationColumns = "id, org_name, poc_name, poc_email, poc_phone"

func (s *Store) queryOrganization(ctx context.Context, q dialect.Querier, where string, args ...any) (*cr.Organization, error) {
	org, err := scanOrganization(q.QueryRowContext(ctx, s.q("SELECT "+organizationColumns+" FROM organizations WHERE "+where), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting organization", err)
	}
	return org, nil
}

// NewOrganization stores org and returns it with its assigned id.
func (s *Store) NewOrganization(ctx context.Context, org *cr.Organization) (*cr.Organization, error) {
	switch {
	case org == nil:
		return nil, &cr.ValidationError{Field: "organization", Reason: "is nil"}
	case org.ID > 0:
		return nil, &cr.ValidationError{Field: "organization", Reason: "already has an id"}
	case org.Name == "":
		return nil, &cr.ValidationError{Field: "organization name", Reason: "is required"}
	}
	defer s.writeLock()()

	var created *cr.Organization
	err := s.withConn(ctx, func(c Conn) error {
		query := "INSERT INTO organizations (org_name, poc_name, poc_email, poc_phone) VALUES (?, ?, ?, ?)"
		if _, err := c.ExecContext(ctx, s.q(query), org.Name, org.POCName, org.POCEmail, org.POCPhone); err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("organization %s: %w", org.Name, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("inserting organization", err)
		}
		var err error
		created, err = s.queryOrganization(ctx, c, "org_name = ?", org.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetOrganizations(ctx context.Context) ([]*cr.Organization, error) {
	defer s.readLock()()

	var orgs []*cr.Organization
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, "SELECT "+organizationColumns+" FROM organizations ORDER BY id")
		if err != nil {
			return cr.NewStorageError("getting organizations", err)
		}
		defer rows.Close()
		for rows.Next() {
			org, err := scanOrganization(rows)
			if err != nil {
				return cr.NewStorageError("scanning organization", err)
			}
			orgs = append(orgs, org)
		}
		return cr.NewStorageError("getting organizations", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (s *Store) GetOrganizationByID(ctx context.Context, id int64) (*cr.Organization, error) {
	defer s.readLock()()

	var org *cr.Organization
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		org, err = s.queryOrganization(ctx, c, "id = ?", id)
		return err
	})
	return org, err
}

// GetReferenceSetOrganization returns the organization owning the reference set.
func (s *Store) GetReferenceSetOrganization(ctx context.Context, setID int64) (*cr.Organization, error) {
	defer s.readLock()()

	var org *cr.Organization
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		org, err = s.queryOrganization(ctx, c, "id = (SELECT org_id FROM reference_sets WHERE id = ?)", setID)
		return err
	})
	return org, err
}

func (s *Store) UpdateOrganization(ctx context.Context, org *cr.Organization) error {
	switch {
	case org == nil:
		return &cr.ValidationError{Field: "organization", Reason: "is nil"}
	case org.ID <= 0:
		return &cr.ValidationError{Field: "organization", Reason: "must be stored"}
	case org.Name == "":
		return &cr.ValidationError{Field: "organization name", Reason: "is required"}
	}
	defer s.writeLock()()

	err := s.withConn(ctx, func(c Conn) error {
		query := "UPDATE organizations SET org_name = ?, poc_name = ?, poc_email = ?, poc_phone = ? WHERE id = ?"
		if _, err := c.ExecContext(ctx, s.q(query), org.Name, org.POCName, org.POCEmail, org.POCPhone, org.ID); err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("organization %s: %w", org.Name, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("updating organization", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Cached cases embed their organization.
	s.cache.clearCases()
	return nil
}

// DeleteOrganization removes an organization no case or reference set refers to.
func (s *Store) DeleteOrganization(ctx context.Context, org *cr.Organization) error {
	if org == nil || org.ID <= 0 {
		return &cr.ValidationError{Field: "organization", Reason: "must be stored"}
	}
	defer s.writeLock()()

	return s.withTx(ctx, "deleting organization", func(tx dialect.Querier) error {
		var inUse int64
		query := "SELECT (SELECT COUNT(*) FROM cases WHERE org_id = ?) + (SELECT COUNT(*) FROM reference_sets WHERE org_id = ?)"
		if err := tx.QueryRowContext(ctx, s.q(query), org.ID, org.ID).Scan(&inUse); err != nil {
			return cr.NewStorageError("checking organization references", err)
		}
		if inUse > 0 {
			return fmt.Errorf("organization %s: %w", org.Name, cr.ErrOrganizationInUse)
		}
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM organizations WHERE id = ?"), org.ID); err != nil {
			return cr.NewStorageError("deleting organization", err)
		}
		return nil
	})
}

func (s *Store) queryExaminer(ctx context.Context, q dialect.Querier, login string) (*cr.Examiner, error) {
	var (
		ex      cr.Examiner
		display sql.NullString
	)
	err := q.QueryRowContext(ctx, s.q("SELECT id, login_name, display_name FROM examiners WHERE login_name = ?"), login).
		Scan(&ex.ID, &ex.LoginName, &display)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting examiner", err)
	}
	ex.DisplayName = display.String
	return &ex, nil
}

// getOrInsertExaminer is the unlocked body of GetOrInsertExaminer.
func (s *Store) getOrInsertExaminer(ctx context.Context, q dialect.Querier, login string) (*cr.Examiner, error) {
	ex, err := s.queryExaminer(ctx, q, login)
	if err != nil || ex != nil {
		return ex, err
	}
	if _, err := q.ExecContext(ctx, s.q(s.d.InsertOrIgnore("examiners (login_name) VALUES (?)")), login); err != nil {
		return nil, cr.NewStorageError("inserting examiner", err)
	}
	ex, err = s.queryExaminer(ctx, q, login)
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, cr.NewStorageError("creating examiner", errors.New("examiner missing after insert"))
	}
	return ex, nil
}

func (s *Store) GetOrInsertExaminer(ctx context.Context, loginName string) (*cr.Examiner, error) {
	if loginName == "" {
		return nil, &cr.ValidationError{Field: "examiner login", Reason: "is required"}
	}
	defer s.writeLock()()

	var ex *cr.Examiner
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		ex, err = s.getOrInsertExaminer(ctx, c, loginName)
		return err
	})
	return ex, err
}
