package database

import (
	"context"
	"fmt"
	"sort"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

const correlationTypeColumns = "id, display_name, db_table_name, supported, enabled"

func (s *Store) queryCorrelationTypes(ctx context.Context, q dialect.Querier) ([]cr.CorrelationType, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+correlationTypeColumns+" FROM correlation_types ORDER BY id")
	if err != nil {
		return nil, cr.NewStorageError("getting correlation types", err)
	}
	defer rows.Close()

	var types []cr.CorrelationType
	for rows.Next() {
		t, err := scanCorrelationType(rows)
		if err != nil {
			return nil, cr.NewStorageError("scanning correlation type", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, cr.NewStorageError("getting correlation types", err)
	}
	return types, nil
}

// correlationTypes returns every defined type, loading the type cache on first use.
func (s *Store) correlationTypes(ctx context.Context) ([]cr.CorrelationType, error) {
	s.cache.typesMu.RLock()
	if s.cache.typesLoaded {
		types := make([]cr.CorrelationType, 0, len(s.cache.types))
		for _, t := range s.cache.types {
			types = append(types, t)
		}
		s.cache.typesMu.RUnlock()
		s.metrics.hit(cacheTypes)
		sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
		return types, nil
	}
	s.cache.typesMu.RUnlock()
	s.metrics.miss(cacheTypes)

	v, err, _ := s.cache.group.Do("correlation-types", func() (any, error) {
		var types []cr.CorrelationType
		err := s.withConn(ctx, func(c Conn) error {
			var err error
			types, err = s.queryCorrelationTypes(ctx, c)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.cache.loadTypes(types)
		return types, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]cr.CorrelationType(nil), v.([]cr.CorrelationType)...), nil
}

func (s *Store) correlationTypeByID(ctx context.Context, id int) (*cr.CorrelationType, error) {
	if t, ok, loaded := s.cache.typeByID(id); loaded {
		s.metrics.hit(cacheTypes)
		if !ok {
			return nil, nil
		}
		return &t, nil
	}
	types, err := s.correlationTypes(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

// NewCorrelationType registers t and creates its instance table. A negative t.ID
// assigns the next free id at or above cr.AdditionalTypesBaseID.
func (s *Store) NewCorrelationType(ctx context.Context, t cr.CorrelationType) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	defer s.writeLock()()

	err := s.withTx(ctx, "creating correlation type", func(tx dialect.Querier) error {
		if t.ID < 0 {
			var next int
			row := tx.QueryRowContext(ctx, s.q("SELECT COALESCE(MAX(id), 0) + 1 FROM correlation_types"))
			if err := row.Scan(&next); err != nil {
				return cr.NewStorageError("assigning correlation type id", err)
			}
			t.ID = max(next, cr.AdditionalTypesBaseID)
		}
		query := "INSERT INTO correlation_types (" + correlationTypeColumns + ") VALUES (?, ?, ?, ?, ?)"
		_, err := tx.ExecContext(ctx, s.q(query), t.ID, t.DisplayName, t.TableName, boolInt(t.Supported), boolInt(t.Enabled))
		if err != nil {
			if s.d.IsUniqueViolation(err) {
				return fmt.Errorf("correlation type %s: %w", t.DisplayName, cr.ErrConstraintConflict)
			}
			return cr.NewStorageError("inserting correlation type", err)
		}
		if err := s.factory.SyncCorrelationTypeIDs(ctx, tx); err != nil {
			return cr.NewStorageError("inserting correlation type", err)
		}
		if err := s.factory.CreateInstanceTable(ctx, tx, t); err != nil {
			return cr.NewStorageError("creating instance table", err)
		}
		return nil
	})
	s.cache.invalidateTypes()
	if err != nil {
		return 0, err
	}
	s.logger.Info("correlation type created", "id", t.ID, "table", t.InstanceTable())
	return t.ID, nil
}

func (s *Store) GetDefinedCorrelationTypes(ctx context.Context) ([]cr.CorrelationType, error) {
	defer s.readLock()()
	return s.correlationTypes(ctx)
}

func (s *Store) GetEnabledCorrelationTypes(ctx context.Context) ([]cr.CorrelationType, error) {
	defer s.readLock()()
	return s.filterTypes(ctx, func(t cr.CorrelationType) bool { return t.Enabled })
}

func (s *Store) GetSupportedCorrelationTypes(ctx context.Context) ([]cr.CorrelationType, error) {
	defer s.readLock()()
	return s.filterTypes(ctx, func(t cr.CorrelationType) bool { return t.Supported })
}

func (s *Store) filterTypes(ctx context.Context, keep func(cr.CorrelationType) bool) ([]cr.CorrelationType, error) {
	types, err := s.correlationTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := types[:0]
	for _, t := range types {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// UpdateCorrelationType changes the display name and flags of a type. The table name
// is fixed once the type exists.
func (s *Store) UpdateCorrelationType(ctx context.Context, t cr.CorrelationType) error {
	if t.DisplayName == "" {
		return &cr.ValidationError{Field: "display_name", Reason: "is required"}
	}
	defer s.writeLock()()

	err := s.withConn(ctx, func(c Conn) error {
		query := "UPDATE correlation_types SET display_name = ?, supported = ?, enabled = ? WHERE id = ?"
		_, err := c.ExecContext(ctx, s.q(query), t.DisplayName, boolInt(t.Supported), boolInt(t.Enabled), t.ID)
		if err != nil {
			return cr.NewStorageError("updating correlation type", err)
		}
		return nil
	})
	s.cache.invalidateTypes()
	return err
}

func (s *Store) GetCorrelationTypeByID(ctx context.Context, id int) (*cr.CorrelationType, error) {
	defer s.readLock()()
	return s.correlationTypeByID(ctx, id)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
