package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

func validateDataSource(ds *cr.DataSource) error {
	switch {
	case ds == nil:
		return &cr.ValidationError{Field: "data source", Reason: "is nil"}
	case ds.CaseID <= 0:
		return &cr.ValidationError{Field: "data source case id", Reason: "is required"}
	case ds.DeviceID == "":
		return &cr.ValidationError{Field: "data source device id", Reason: "is required"}
	case ds.Name == "":
		return &cr.ValidationError{Field: "data source name", Reason: "is required"}
	}
	return nil
}

func (s *Store) queryDataSource(ctx context.Context, q dialect.Querier, caseID, objectID int64) (*cr.DataSource, error) {
	query := "SELECT " + dataSourceColumns + " FROM data_sources WHERE case_id = ? AND datasource_obj_id = ? LIMIT 1"
	ds, err := scanDataSource(q.QueryRowContext(ctx, s.q(query), caseID, objectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting data source", err)
	}
	return ds, nil
}

func (s *Store) queryDataSourceByID(ctx context.Context, q dialect.Querier, caseID, id int64) (*cr.DataSource, error) {
	query := "SELECT " + dataSourceColumns + " FROM data_sources WHERE case_id = ? AND id = ?"
	ds, err := scanDataSource(q.QueryRowContext(ctx, s.q(query), caseID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cr.NewStorageError("getting data source by id", err)
	}
	return ds, nil
}

func (s *Store) getDataSource(ctx context.Context, caseID, objectID int64) (*cr.DataSource, error) {
	if ds, ok := s.cache.getDataSource(caseID, objectID); ok {
		return ds, nil
	}
	v, err, _ := s.cache.group.Do("ds:"+dsObjectKey(caseID, objectID), func() (any, error) {
		var found *cr.DataSource
		err := s.withConn(ctx, func(c Conn) error {
			var err error
			found, err = s.queryDataSource(ctx, c, caseID, objectID)
			return err
		})
		switch {
		case err != nil:
			return nil, err
		case found == nil:
			s.cache.putDataSourceAbsent(caseID, objectID)
		default:
			s.cache.putDataSource(found)
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	if found := v.(*cr.DataSource); found != nil {
		ds := *found
		return &ds, nil
	}
	return nil, nil
}

func (s *Store) getOrCreateDataSource(ctx context.Context, ds *cr.DataSource) (*cr.DataSource, error) {
	if err := validateDataSource(ds); err != nil {
		return nil, err
	}
	if ds.ID != 0 {
		return ds, nil
	}
	existing, err := s.getDataSource(ctx, ds.CaseID, ds.ObjectID)
	if err != nil || existing != nil {
		return existing, err
	}

	var created *cr.DataSource
	err = s.withConn(ctx, func(c Conn) error {
		query := "INSERT INTO data_sources (device_id, case_id, name, datasource_obj_id, md5, sha1, sha256) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?) " + s.d.ConflictClause()
		_, err := c.ExecContext(ctx, s.q(query),
			ds.DeviceID, ds.CaseID, ds.Name, ds.ObjectID, nullString(ds.MD5), nullString(ds.SHA1), nullString(ds.SHA256))
		// A conflict, whether raised or silently skipped, resolves to the existing row.
		if err != nil && !s.d.IsUniqueViolation(err) {
			return cr.NewStorageError("inserting data source", err)
		}
		created, err = s.queryDataSource(ctx, c, ds.CaseID, ds.ObjectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, cr.NewStorageError("creating data source", errors.New("data source missing after insert"))
	}
	s.cache.putDataSource(created)
	return created, nil
}

func (s *Store) GetOrCreateDataSource(ctx context.Context, ds *cr.DataSource) (*cr.DataSource, error) {
	defer s.writeLock()()
	return s.getOrCreateDataSource(ctx, ds)
}

func (s *Store) GetDataSource(ctx context.Context, caseID, objectID int64) (*cr.DataSource, error) {
	if caseID <= 0 {
		return nil, &cr.ValidationError{Field: "case id", Reason: "is required"}
	}
	defer s.readLock()()
	return s.getDataSource(ctx, caseID, objectID)
}

func (s *Store) GetDataSourceByID(ctx context.Context, caseID, id int64) (*cr.DataSource, error) {
	if caseID <= 0 {
		return nil, &cr.ValidationError{Field: "case id", Reason: "is required"}
	}
	defer s.readLock()()

	if ds, ok := s.cache.getDataSourceByID(caseID, id); ok {
		return ds, nil
	}
	var found *cr.DataSource
	err := s.withConn(ctx, func(c Conn) error {
		var err error
		found, err = s.queryDataSourceByID(ctx, c, caseID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		s.cache.putDataSourceAbsentByID(caseID, id)
		return nil, nil
	}
	s.cache.putDataSource(found)
	return found, nil
}

func (s *Store) GetDataSources(ctx context.Context) ([]*cr.DataSource, error) {
	defer s.readLock()()

	var out []*cr.DataSource
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, "SELECT "+dataSourceColumns+" FROM data_sources ORDER BY id")
		if err != nil {
			return cr.NewStorageError("getting data sources", err)
		}
		defer rows.Close()
		for rows.Next() {
			ds, err := scanDataSource(rows)
			if err != nil {
				return cr.NewStorageError("scanning data source", err)
			}
			out = append(out, ds)
		}
		return cr.NewStorageError("getting data sources", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// updateDataSourceColumn sets one column of a stored data source and writes the
// refreshed row through both caches.
func (s *Store) updateDataSourceColumn(ctx context.Context, ds *cr.DataSource, column string, value any) error {
	if ds == nil || ds.ID <= 0 {
		return &cr.ValidationError{Field: "data source", Reason: "must be stored"}
	}
	defer s.writeLock()()

	var updated *cr.DataSource
	err := s.withConn(ctx, func(c Conn) error {
		query := fmt.Sprintf("UPDATE data_sources SET %s = ? WHERE id = ?", column)
		if _, err := c.ExecContext(ctx, s.q(query), value, ds.ID); err != nil {
			return cr.NewStorageError("updating data source "+column, err)
		}
		var err error
		updated, err = s.queryDataSourceByID(ctx, c, ds.CaseID, ds.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.cache.dsByObject.Delete(dsObjectKey(ds.CaseID, ds.ObjectID))
	if updated != nil {
		s.cache.putDataSource(updated)
		*ds = *updated
	}
	return nil
}

func (s *Store) UpdateDataSourceMD5(ctx context.Context, ds *cr.DataSource) error {
	if ds == nil {
		return &cr.ValidationError{Field: "data source", Reason: "is nil"}
	}
	return s.updateDataSourceColumn(ctx, ds, "md5", nullString(ds.MD5))
}

func (s *Store) UpdateDataSourceSHA1(ctx context.Context, ds *cr.DataSource) error {
	if ds == nil {
		return &cr.ValidationError{Field: "data source", Reason: "is nil"}
	}
	return s.updateDataSourceColumn(ctx, ds, "sha1", nullString(ds.SHA1))
}

func (s *Store) UpdateDataSourceSHA256(ctx context.Context, ds *cr.DataSource) error {
	if ds == nil {
		return &cr.ValidationError{Field: "data source", Reason: "is nil"}
	}
	return s.updateDataSourceColumn(ctx, ds, "sha256", nullString(ds.SHA256))
}

func (s *Store) UpdateDataSourceName(ctx context.Context, ds *cr.DataSource, name string) error {
	if name == "" {
		return &cr.ValidationError{Field: "data source name", Reason: "is required"}
	}
	return s.updateDataSourceColumn(ctx, ds, "name", name)
}

// AddDataSourceObjectID records the object id of a data source created before
// object ids were tracked.
func (s *Store) AddDataSourceObjectID(ctx context.Context, ds *cr.DataSource, objectID int64) error {
	return s.updateDataSourceColumn(ctx, ds, "datasource_obj_id", objectID)
}
