package database

import (
	"context"
	"strings"

	"crepo/internal/cr"
)

const rawInstanceColumns = "id, case_id, data_source_id, value, file_path, known_status, comment, file_obj_id"

// runQuery hands the rows of query to fn and closes them whatever fn returns.
func (s *Store) runQuery(ctx context.Context, op, query string, args []any, fn cr.RowFunc) error {
	if fn == nil {
		return &cr.ValidationError{Field: "row callback", Reason: "is nil"}
	}
	return s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, s.q(query), args...)
		if err != nil {
			return cr.NewStorageError(op, err)
		}
		defer rows.Close()
		if err := fn(rows); err != nil {
			return err
		}
		return cr.NewStorageError(op, rows.Err())
	})
}

// ProcessInstanceTable passes every row of the instance table of t to fn.
func (s *Store) ProcessInstanceTable(ctx context.Context, t cr.CorrelationType, fn cr.RowFunc) error {
	if err := t.Validate(); err != nil {
		return err
	}
	defer s.readLock()()
	return s.runQuery(ctx, "processing "+t.InstanceTable(), "SELECT "+rawInstanceColumns+" FROM "+t.InstanceTable(), nil, fn)
}

// ProcessInstanceTableWhere is ProcessInstanceTable restricted by a WHERE clause.
func (s *Store) ProcessInstanceTableWhere(ctx context.Context, t cr.CorrelationType, where string, args []any, fn cr.RowFunc) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(where) == "" {
		return &cr.ValidationError{Field: "where clause", Reason: "is required"}
	}
	defer s.readLock()()
	query := "SELECT " + rawInstanceColumns + " FROM " + t.InstanceTable() + " WHERE " + where
	return s.runQuery(ctx, "processing "+t.InstanceTable(), query, args, fn)
}

// ProcessSelectClause runs "SELECT " + selectClause.
func (s *Store) ProcessSelectClause(ctx context.Context, selectClause string, args []any, fn cr.RowFunc) error {
	if strings.TrimSpace(selectClause) == "" {
		return &cr.ValidationError{Field: "select clause", Reason: "is required"}
	}
	defer s.readLock()()
	return s.runQuery(ctx, "processing select clause", "SELECT "+selectClause, args, fn)
}

// ExecuteCommand runs a statement under the exclusive lock and drops every cache,
// since it may have changed anything.
func (s *Store) ExecuteCommand(ctx context.Context, query string, args ...any) error {
	if strings.TrimSpace(query) == "" {
		return &cr.ValidationError{Field: "command", Reason: "is required"}
	}
	defer s.writeLock()()

	err := s.withConn(ctx, func(c Conn) error {
		if _, err := c.ExecContext(ctx, s.q(query), args...); err != nil {
			return cr.NewStorageError("executing command", err)
		}
		return nil
	})
	s.cache.clear()
	return err
}

func (s *Store) ExecuteQuery(ctx context.Context, query string, args []any, fn cr.RowFunc) error {
	if strings.TrimSpace(query) == "" {
		return &cr.ValidationError{Field: "query", Reason: "is required"}
	}
	defer s.readLock()()
	return s.runQuery(ctx, "executing query", query, args, fn)
}
