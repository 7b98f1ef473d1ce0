package database

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"time"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
	"crepo/internal/database/migrations"
	"crepo/internal/database/schema"
)

// Conn is the connection surface store operations run against. *sql.Conn satisfies it.
type Conn interface {
	dialect.Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Options tune a Store. Zero values select the defaults.
type Options struct {
	Logger         cr.Logger
	Metrics        *Metrics
	Clock          cr.Clock
	IDs            cr.IDGenerator
	CacheTTL       time.Duration
	BulkThreshold  int
	AcquireTimeout time.Duration

	// Examiner is the login recorded on persona edits that name no examiner.
	// It defaults to the OS user.
	Examiner string
}

const (
	defaultCacheTTL       = 5 * time.Minute
	defaultAcquireTimeout = time.Second
)

// Store implements cr.Repository on top of a Provider.
type Store struct {
	provider Provider
	d        dialect.Dialect
	factory  *schema.Factory
	cache    *repoCache
	bulk     *stager
	metrics  *Metrics
	logger   cr.Logger
	clock    cr.Clock
	ids      cr.IDGenerator
	examiner string

	acquireTimeout time.Duration

	// instrument wraps every acquired connection. Tests use it to count queries.
	instrument func(Conn) Conn
}

// NewStore creates a Store for p.
func NewStore(p Provider, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = cr.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics("crepo", nil)
	}
	if opts.Clock == nil {
		opts.Clock = cr.RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = cr.UUIDGenerator{}
	}
	if opts.Examiner == "" {
		opts.Examiner = defaultExaminer()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.BulkThreshold <= 0 {
		opts.BulkThreshold = cr.DefaultBulkThreshold
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	return &Store{
		provider:       p,
		d:              p.Dialect(),
		factory:        schema.NewFactory(p.Dialect()),
		cache:          newRepoCache(opts.CacheTTL, opts.Metrics),
		bulk:           newStager(opts.BulkThreshold),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		clock:          opts.Clock,
		ids:            opts.IDs,
		examiner:       opts.Examiner,
		acquireTimeout: opts.AcquireTimeout,
	}
}

func defaultExaminer() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// Provider returns the provider the store runs on.
func (s *Store) Provider() Provider { return s.provider }

func (s *Store) readLock() func() {
	l := s.provider.Locker()
	l.RLock()
	return l.RUnlock
}

func (s *Store) writeLock() func() {
	l := s.provider.Locker()
	l.Lock()
	return l.Unlock
}

// q rebinds a '?'-placeholder query for the engine.
func (s *Store) q(query string) string {
	return s.d.Rebind(query)
}

// withConn acquires a pooled connection, waiting at most the acquire timeout, and
// releases it when fn returns.
func (s *Store) withConn(ctx context.Context, fn func(c Conn) error) error {
	db, err := s.provider.Pool(ctx)
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	conn, err := db.Conn(actx)
	cancel()
	if err != nil {
		return &cr.ConnectivityError{Backend: s.d.Name(), Err: err}
	}
	defer conn.Close()

	var c Conn = conn
	if s.instrument != nil {
		c = s.instrument(c)
	}
	return fn(c)
}

// withTx runs fn in a transaction on a pooled connection. The transaction is
// rolled back unless fn succeeds and the commit goes through.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx dialect.Querier) error) error {
	return s.withConn(ctx, func(c Conn) error {
		tx, err := c.BeginTx(ctx, nil)
		if err != nil {
			return cr.NewStorageError(op+": starting transaction", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return cr.NewStorageError(op+": committing transaction", err)
		}
		return nil
	})
}

// Initialize creates the schema and seeds the default content of an empty repository.
func (s *Store) Initialize(ctx context.Context) error {
	defer s.writeLock()()

	err := s.withTx(ctx, "initializing schema", func(tx dialect.Querier) error {
		if err := s.factory.Create(ctx, tx); err != nil {
			return cr.NewStorageError("initializing schema", err)
		}
		if err := s.factory.InsertDefaults(ctx, tx); err != nil {
			return cr.NewStorageError("inserting default content", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.clear()
	s.logger.Info("central repository schema created", "engine", s.d.Name(), "version", cr.CurrentSchema.String())
	return nil
}

// UpgradeSchema brings the persisted schema up to the software version. It runs on
// an ephemeral connection with foreign keys disabled and holds the exclusive lock
// for its whole duration.
func (s *Store) UpgradeSchema(ctx context.Context) (migrations.Result, error) {
	defer s.writeLock()()

	db, err := s.provider.Ephemeral(ctx, false)
	if err != nil {
		return migrations.Result{}, err
	}
	defer db.Close()

	m := migrations.New(s.factory, s.logger)
	res, err := m.Run(ctx, db)
	if err != nil {
		return res, err
	}
	s.cache.clear()
	return res, nil
}

// ClearCaches invalidates every cache.
func (s *Store) ClearCaches() {
	s.cache.clear()
}

// resetTables lists the content tables Reset empties, children first.
func resetTables(types []cr.CorrelationType) []string {
	var tables []string
	for _, t := range types {
		tables = append(tables, t.InstanceTable())
		if ref, ok := t.ReferenceTable(); ok {
			tables = append(tables, ref)
		}
	}
	return append(tables,
		schema.ReferenceSets,
		schema.DataSources,
		schema.Cases,
		schema.PersonaAccounts,
		schema.PersonaMetadata,
		schema.PersonaAlias,
		schema.Personas,
		schema.Accounts,
		schema.Examiners,
		schema.Organizations,
	)
}

// Reset deletes all content and re-inserts the default content. Correlation type
// registrations and schema version markers are kept.
func (s *Store) Reset(ctx context.Context) error {
	if !s.provider.SupportsReset() {
		return cr.ErrResetUnsupported
	}
	defer s.writeLock()()

	err := s.withTx(ctx, "resetting repository", func(tx dialect.Querier) error {
		types, err := s.queryCorrelationTypes(ctx, tx)
		if err != nil {
			return err
		}
		for _, table := range resetTables(types) {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return cr.NewStorageError("resetting "+table, err)
			}
		}
		if err := s.factory.InsertDefaults(ctx, tx); err != nil {
			return cr.NewStorageError("inserting default content", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.clear()
	s.logger.Info("central repository reset", "engine", s.d.Name())
	return nil
}

// BackupTo writes a consistent copy of the repository to destPath. Staged instances
// are flushed first and writers are held off until the copy is complete.
func (s *Store) BackupTo(ctx context.Context, destPath string) error {
	snap, ok := s.provider.(Snapshotter)
	if !ok {
		return cr.ErrBackupUnsupported
	}
	if err := s.CommitAttributeInstancesBulk(ctx); err != nil {
		return fmt.Errorf("flushing staged instances: %w", err)
	}
	defer s.writeLock()()

	if err := snap.BackupTo(ctx, destPath); err != nil {
		return cr.NewStorageError("backing up repository", err)
	}
	s.logger.Info("central repository backed up", "dest", destPath)
	return nil
}

// Close flushes staged instances, clears the caches and closes the provider.
func (s *Store) Close() error {
	flushErr := s.CommitAttributeInstancesBulk(context.Background())
	s.cache.clear()
	if err := s.provider.Close(); err != nil {
		return fmt.Errorf("closing provider: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("flushing staged instances: %w", flushErr)
	}
	return nil
}

var _ cr.Repository = (*Store)(nil)
