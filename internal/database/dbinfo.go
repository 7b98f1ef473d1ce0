package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crepo/internal/cr"
	"crepo/internal/database/schema"
)

func (s *Store) NewDBInfo(ctx context.Context, name, value string) error {
	if name == "" {
		return &cr.ValidationError{Field: "db_info name", Reason: "is required"}
	}
	defer s.writeLock()()

	return s.withConn(ctx, func(c Conn) error {
		if _, err := c.ExecContext(ctx, s.q("INSERT INTO db_info (name, value) VALUES (?, ?)"), name, value); err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("db_info %s: %w", name, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("inserting db_info", err)
		}
		return nil
	})
}

// GetDBInfo returns the value stored under name and whether it exists.
func (s *Store) GetDBInfo(ctx context.Context, name string) (string, bool, error) {
	defer s.readLock()()

	var (
		value string
		found bool
	)
	err := s.withConn(ctx, func(c Conn) error {
		err := c.QueryRowContext(ctx, s.q("SELECT value FROM db_info WHERE name = ?"), name).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return cr.NewStorageError("getting db_info", err)
		}
		found = true
		return nil
	})
	return value, found, err
}

func (s *Store) UpdateDBInfo(ctx context.Context, name, value string) error {
	defer s.writeLock()()

	return s.withConn(ctx, func(c Conn) error {
		if _, err := c.ExecContext(ctx, s.q("UPDATE db_info SET value = ? WHERE name = ?"), value, name); err != nil {
			return cr.NewStorageError("updating db_info", err)
		}
		return nil
	})
}

// SchemaVersion returns the persisted schema version.
func (s *Store) SchemaVersion(ctx context.Context) (cr.SchemaVersion, error) {
	defer s.readLock()()

	var v cr.SchemaVersion
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		v, err = schema.ReadVersion(ctx, s.d, c)
		var verr *cr.SchemaVersionError
		if err != nil && !errors.As(err, &verr) {
			return cr.NewStorageError("reading schema version", err)
		}
		return err
	})
	return v, err
}
