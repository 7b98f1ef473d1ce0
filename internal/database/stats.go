package database

import (
	"context"

	"crepo/internal/cr"
)

func (s *Store) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	var n int64
	err := s.withConn(ctx, func(c Conn) error {
		return cr.NewStorageError(op, c.QueryRowContext(ctx, s.q(query), args...).Scan(&n))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func normalizedTypeValue(t cr.CorrelationType, value string) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	return cr.Normalize(t.ID, value)
}

func (s *Store) CountArtifactInstancesByTypeValue(ctx context.Context, t cr.CorrelationType, value string) (int64, error) {
	v, err := normalizedTypeValue(t, value)
	if err != nil {
		return 0, err
	}
	defer s.readLock()()
	return s.count(ctx, "counting instances", "SELECT COUNT(*) FROM "+t.InstanceTable()+" WHERE value = ?", v)
}

func (s *Store) countTuples(ctx context.Context, t cr.CorrelationType, value string) (int64, error) {
	query := "SELECT COUNT(*) FROM (SELECT DISTINCT case_id, data_source_id FROM " + t.InstanceTable() + " WHERE value = ?) tuples"
	return s.count(ctx, "counting case and data source tuples", query, value)
}

// CountUniqueCaseDataSourceTuplesHavingTypeValue counts the distinct (case, data source)
// pairs holding value.
func (s *Store) CountUniqueCaseDataSourceTuplesHavingTypeValue(ctx context.Context, t cr.CorrelationType, value string) (int64, error) {
	v, err := normalizedTypeValue(t, value)
	if err != nil {
		return 0, err
	}
	defer s.readLock()()
	return s.countTuples(ctx, t, v)
}

func (s *Store) countDataSources(ctx context.Context) (int64, error) {
	return s.count(ctx, "counting data sources", "SELECT COUNT(*) FROM data_sources")
}

// FrequencyPercentage returns the share of all data sources holding the value of inst,
// truncated to a whole percent.
func (s *Store) FrequencyPercentage(ctx context.Context, inst *cr.Instance) (int, error) {
	if inst == nil {
		return 0, &cr.ValidationError{Field: "instance", Reason: "is nil"}
	}
	v, err := normalizedTypeValue(inst.Type, inst.Value)
	if err != nil {
		return 0, err
	}
	defer s.readLock()()

	tuples, err := s.countTuples(ctx, inst.Type, v)
	if err != nil {
		return 0, err
	}
	total, err := s.countDataSources(ctx)
	if err != nil || total == 0 {
		return 0, err
	}
	return int(float64(tuples) / float64(total) * 100), nil
}

// CountCasesWithOtherInstances counts the cases holding the value of inst, leaving out
// inst itself when its case and data source are stored.
func (s *Store) CountCasesWithOtherInstances(ctx context.Context, inst *cr.Instance) (int64, error) {
	if inst == nil {
		return 0, &cr.ValidationError{Field: "instance", Reason: "is nil"}
	}
	v, err := normalizedTypeValue(inst.Type, inst.Value)
	if err != nil {
		return 0, err
	}
	defer s.readLock()()

	query := "SELECT COUNT(DISTINCT case_id) FROM " + inst.Type.InstanceTable() + " WHERE value = ?"
	args := []any{v}
	if inst.Case != nil && inst.Case.ID > 0 && inst.DataSource != nil && inst.DataSource.ID > 0 {
		query += " AND NOT (COALESCE(file_obj_id, 0) = ? AND case_id = ? AND data_source_id = ?)"
		args = append(args, inst.FileObjectID, inst.Case.ID, inst.DataSource.ID)
	}
	return s.count(ctx, "counting cases with other instances", query, args...)
}

func (s *Store) CountUniqueDataSources(ctx context.Context) (int64, error) {
	defer s.readLock()()
	return s.countDataSources(ctx)
}

// CountArtifactInstancesByCaseDataSource sums the instances of one data source across
// every defined type.
func (s *Store) CountArtifactInstancesByCaseDataSource(ctx context.Context, dataSourceID int64) (int64, error) {
	defer s.readLock()()

	types, err := s.correlationTypes(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, t := range types {
		n, err := s.count(ctx, "counting data source instances",
			"SELECT COUNT(*) FROM "+t.InstanceTable()+" WHERE data_source_id = ?", dataSourceID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *Store) CountArtifactInstancesKnownBad(ctx context.Context, t cr.CorrelationType, value string) (int64, error) {
	v, err := normalizedTypeValue(t, value)
	if err != nil {
		return 0, err
	}
	defer s.readLock()()
	return s.count(ctx, "counting known bad instances",
		"SELECT COUNT(*) FROM "+t.InstanceTable()+" WHERE value = ? AND known_status = ?", v, int(cr.KnownStatusBad))
}

func (s *Store) caseNames(ctx context.Context, t cr.CorrelationType, where string, args ...any) ([]string, error) {
	query := "SELECT DISTINCT cases.case_name FROM " + t.InstanceTable() + " t" +
		" INNER JOIN cases ON t.case_id = cases.id WHERE " + where + " ORDER BY cases.case_name"
	var names []string
	err := s.withConn(ctx, func(c Conn) error {
		rows, err := c.QueryContext(ctx, s.q(query), args...)
		if err != nil {
			return cr.NewStorageError("listing cases", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return cr.NewStorageError("scanning case name", err)
			}
			names = append(names, name)
		}
		return cr.NewStorageError("listing cases", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// GetListCasesHavingArtifactInstances returns the distinct names of cases holding value.
func (s *Store) GetListCasesHavingArtifactInstances(ctx context.Context, t cr.CorrelationType, value string) ([]string, error) {
	v, err := normalizedTypeValue(t, value)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()
	return s.caseNames(ctx, t, "t.value = ?", v)
}

func (s *Store) GetListCasesHavingArtifactInstancesKnownBad(ctx context.Context, t cr.CorrelationType, value string) ([]string, error) {
	v, err := normalizedTypeValue(t, value)
	if err != nil {
		return nil, err
	}
	defer s.readLock()()
	return s.caseNames(ctx, t, "t.value = ? AND t.known_status = ?", v, int(cr.KnownStatusBad))
}
