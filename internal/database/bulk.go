package database

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

// stagedBatch is the staged instances of one type in staging order.
type stagedBatch struct {
	t         cr.CorrelationType
	instances []cr.Instance
}

// stager accumulates instances per type until the threshold is reached. Staging, the
// threshold check and the flush happen under one mutex.
type stager struct {
	mu        sync.Mutex
	threshold int
	byType    map[int][]cr.Instance
	types     map[int]cr.CorrelationType
	order     []int
	count     int
}

func newStager(threshold int) *stager {
	return &stager{
		threshold: threshold,
		byType:    make(map[int][]cr.Instance),
		types:     make(map[int]cr.CorrelationType),
	}
}

// stage adds inst and flushes through write once the threshold is reached.
func (b *stager) stage(inst cr.Instance, write func([]stagedBatch) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := inst.Type.ID
	if _, ok := b.types[id]; !ok {
		b.types[id] = inst.Type
		b.order = append(b.order, id)
	}
	b.byType[id] = append(b.byType[id], inst)
	b.count++

	if b.count < b.threshold {
		return nil
	}
	return b.drain(write)
}

// flush writes everything staged so far.
func (b *stager) flush(write func([]stagedBatch) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drain(write)
}

// drain empties the staging lists before calling write, so a failed write does not
// leave the batch to be retried. Callers hold mu.
func (b *stager) drain(write func([]stagedBatch) error) error {
	if b.count == 0 {
		return nil
	}
	batches := make([]stagedBatch, 0, len(b.order))
	for _, id := range b.order {
		batches = append(batches, stagedBatch{t: b.types[id], instances: b.byType[id]})
	}
	b.byType = make(map[int][]cr.Instance)
	b.types = make(map[int]cr.CorrelationType)
	b.order = nil
	b.count = 0
	return write(batches)
}

// AddAttributeInstanceBulk stages inst for a later batched insert. The value is
// normalized now; the case and data source are resolved when the batch is written.
func (s *Store) AddAttributeInstanceBulk(ctx context.Context, inst *cr.Instance) error {
	if inst == nil {
		return &cr.ValidationError{Field: "instance", Reason: "is nil"}
	}
	if err := inst.Type.Validate(); err != nil {
		return err
	}
	staged := *inst
	if strings.TrimSpace(inst.Value) != "" {
		v, err := cr.Normalize(inst.Type.ID, inst.Value)
		if err != nil {
			return err
		}
		staged.Value = v
	}
	return s.bulk.stage(staged, func(batches []stagedBatch) error {
		return s.writeBatches(ctx, batches)
	})
}

// CommitAttributeInstancesBulk writes every staged instance.
func (s *Store) CommitAttributeInstancesBulk(ctx context.Context) error {
	return s.bulk.flush(func(batches []stagedBatch) error {
		return s.writeBatches(ctx, batches)
	})
}

func (s *Store) writeBatches(ctx context.Context, batches []stagedBatch) error {
	defer s.writeLock()()

	written := 0
	err := s.withTx(ctx, "writing staged instances", func(tx dialect.Querier) error {
		for _, b := range batches {
			n, err := s.writeBatch(ctx, tx, b)
			written += n
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.flushed(written)
	s.logger.Debug("staged instances written", "rows", written, "types", len(batches))
	return nil
}

func (s *Store) writeBatch(ctx context.Context, tx dialect.Querier, b stagedBatch) (int, error) {
	cols := "case_id, data_source_id, value, file_path, known_status, comment, file_obj_id"
	vals := "(SELECT id FROM cases WHERE case_uid = ? LIMIT 1), " +
		"(SELECT id FROM data_sources WHERE datasource_obj_id = ? AND case_id = (SELECT id FROM cases WHERE case_uid = ? LIMIT 1) LIMIT 1), " +
		"?, ?, ?, ?, ?"
	if b.t.HasAccount() {
		cols += ", account_id"
		vals += ", ?"
	}
	query := s.q("INSERT INTO " + b.t.InstanceTable() + " (" + cols + ") VALUES (" + vals + ") " + s.d.ConflictClause())

	n := 0
	for i := range b.instances {
		inst := &b.instances[i]
		if strings.TrimSpace(inst.Value) == "" {
			continue
		}
		if cr.ValueTooLong(inst.Value) {
			s.logger.Warn("skipping staged instance with over-length value",
				"type", b.t.DisplayName, "value", preview(inst.Value, 32), "length", cr.ValueLength(inst.Value))
			continue
		}
		if inst.Case == nil || inst.Case.UUID == "" {
			return n, &cr.ValidationError{Field: "case", Reason: fmt.Sprintf("missing for staged %s instance", b.t.DisplayName)}
		}
		if inst.DataSource == nil {
			return n, &cr.ValidationError{Field: "data source", Reason: fmt.Sprintf("missing for staged %s instance", b.t.DisplayName)}
		}
		if !inst.KnownStatus.Valid() {
			return n, &cr.ValidationError{Field: "known status", Reason: fmt.Sprintf("%d is out of range", int(inst.KnownStatus))}
		}
		args := []any{
			inst.Case.UUID, inst.DataSource.ObjectID, inst.Case.UUID, inst.Value, strings.ToLower(inst.FilePath),
			int(inst.KnownStatus), nullString(inst.Comment), inst.FileObjectID,
		}
		if b.t.HasAccount() {
			args = append(args, nullID(inst.AccountID))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil && !s.d.IsUniqueViolation(err) {
			return n, cr.NewStorageError("writing staged "+b.t.DisplayName+" instance", err)
		}
		n++
	}
	return n, nil
}

// preview returns the first n runes of v followed by "..." when v is longer.
func preview(v string, n int) string {
	for i := range v {
		if n == 0 {
			return v[:i] + "..."
		}
		n--
	}
	return v
}
