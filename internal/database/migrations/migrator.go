// Package migrations upgrades a persisted central repository schema to the version
// this software creates. The whole upgrade runs in one transaction; a failed step
// leaves the repository exactly as it was.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/looplab/fsm"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
	"crepo/internal/database/schema"
)

// Migrator states.
const (
	StatePending      = "pending"
	StateCurrent      = "current"
	StateAhead        = "ahead"
	StateIncompatible = "incompatible"
	StateUpgrading    = "upgrading"
	StateUpgraded     = "upgraded"
	StateFailed       = "failed"
)

const (
	eventCheck  = "check"
	eventNewer  = "newer"
	eventReject = "reject"
	eventBegin  = "begin"
	eventCommit = "commit"
	eventAbort  = "abort"
)

// Result reports what a Run did.
type Result struct {
	From    cr.SchemaVersion
	To      cr.SchemaVersion
	Applied []cr.SchemaVersion
	// State is the terminal migrator state.
	State string
}

// Migrator runs the ordered upgrade steps against one database.
type Migrator struct {
	f      *schema.Factory
	d      dialect.Dialect
	logger cr.Logger
	steps  []step
}

// New returns a Migrator rendering DDL with factory.
func New(factory *schema.Factory, logger cr.Logger) *Migrator {
	if logger == nil {
		logger = cr.NewNopLogger()
	}
	return &Migrator{
		f:      factory,
		d:      factory.Dialect(),
		logger: logger,
		steps:  defaultSteps(),
	}
}

func (m *Migrator) newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: eventCheck, Src: []string{StatePending}, Dst: StateCurrent},
			{Name: eventNewer, Src: []string{StatePending}, Dst: StateAhead},
			{Name: eventReject, Src: []string{StatePending}, Dst: StateIncompatible},
			{Name: eventBegin, Src: []string{StatePending}, Dst: StateUpgrading},
			{Name: eventCommit, Src: []string{StateUpgrading}, Dst: StateUpgraded},
			{Name: eventAbort, Src: []string{StatePending, StateUpgrading}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debug("schema migrator transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// Run reads the persisted version and applies every step newer than it. A repository
// whose major version is newer than the software's is rejected with a
// *cr.SchemaVersionError wrapping cr.ErrIncompatibleSchema. A newer minor version is
// left alone.
func (m *Migrator) Run(ctx context.Context, db *sql.DB) (Result, error) {
	machine := m.newMachine()
	res := Result{To: cr.CurrentSchema, State: machine.Current()}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return m.fail(ctx, machine, res, cr.NewStorageError("beginning schema upgrade", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	from, err := schema.ReadVersion(ctx, m.d, tx)
	if err != nil {
		return m.fail(ctx, machine, res, err)
	}
	res.From = from

	switch {
	case from.Major > cr.CurrentSchema.Major:
		res, err = m.transition(ctx, machine, res, eventReject)
		if err != nil {
			return res, err
		}
		return res, &cr.SchemaVersionError{Persisted: from, Software: cr.CurrentSchema, Err: cr.ErrIncompatibleSchema}
	case from.Compare(cr.CurrentSchema) == 0:
		m.logger.Debug("schema is current", "version", from.String())
		return m.transition(ctx, machine, res, eventCheck)
	case cr.CurrentSchema.Less(from):
		m.logger.Info("schema is newer than this software, leaving it alone",
			"persisted", from.String(), "software", cr.CurrentSchema.String())
		return m.transition(ctx, machine, res, eventNewer)
	}

	if res, err = m.transition(ctx, machine, res, eventBegin); err != nil {
		return res, err
	}
	m.logger.Info("upgrading schema", "from", from.String(), "to", cr.CurrentSchema.String())

	env := &stepEnv{tx: tx, d: m.d, f: m.f, logger: m.logger, from: from}
	for _, st := range m.steps {
		if !from.Less(st.to) {
			continue
		}
		m.logger.Debug("applying schema step", "to", st.to.String())
		if err := st.apply(ctx, env); err != nil {
			return m.fail(ctx, machine, res, fmt.Errorf("%w: upgrading to %s: %w", cr.ErrMigrationFailed, st.to, err))
		}
		res.Applied = append(res.Applied, st.to)
	}

	if err := schema.WriteVersion(ctx, m.d, tx, cr.CurrentSchema); err != nil {
		return m.fail(ctx, machine, res, fmt.Errorf("%w: writing version: %w", cr.ErrMigrationFailed, err))
	}
	if err := tx.Commit(); err != nil {
		return m.fail(ctx, machine, res, fmt.Errorf("%w: committing: %w", cr.ErrMigrationFailed, err))
	}
	committed = true

	res, err = m.transition(ctx, machine, res, eventCommit)
	if err != nil {
		return res, err
	}
	m.logger.Info("schema upgraded", "from", from.String(), "to", cr.CurrentSchema.String(), "steps", len(res.Applied))
	return res, nil
}

func (m *Migrator) transition(ctx context.Context, machine *fsm.FSM, res Result, event string) (Result, error) {
	err := machine.Event(ctx, event)
	res.State = machine.Current()
	if err != nil {
		return res, fmt.Errorf("schema migrator %s from %s: %w", event, res.State, err)
	}
	return res, nil
}

// fail moves the machine to failed and returns cause.
func (m *Migrator) fail(ctx context.Context, machine *fsm.FSM, res Result, cause error) (Result, error) {
	if err := machine.Event(ctx, eventAbort); err != nil {
		m.logger.Warn("schema migrator abort", "state", machine.Current(), "error", err)
	}
	res.State = machine.Current()
	m.logger.Error("schema upgrade failed", "from", res.From.String(), "error", cause)
	return res, cause
}
