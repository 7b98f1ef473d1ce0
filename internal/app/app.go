// Package app wires the central repository from configuration for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"crepo/internal/archive"
	"crepo/internal/config"
	"crepo/internal/cr"
	"crepo/internal/database"
	"crepo/internal/encryption"
)

var (
	// ErrAlreadyInitialized is returned by InitDatabase when the schema exists.
	ErrAlreadyInitialized = errors.New("central repository already initialized")

	// ErrSchemaOutdated means the repository predates the software and needs an upgrade.
	ErrSchemaOutdated = errors.New("central repository schema is out of date; run crepo db upgrade")
)

// App is the layer between the CLI and the store. It builds every dependency
// from config and tears them down on Close.
type App struct {
	cfg       *config.Config
	store     *database.Store
	archive   cr.Archive
	encryptor cr.Encryptor
	registry  *prometheus.Registry
	log       cr.Logger
	logFile   *os.File
	clock     cr.Clock
	op        *Operation
}

// New creates a fully wired App. operation names the CLI command being run.
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, verbose bool) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := cr.RealClock{}
	op := NewOperation(operation, clock)

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.BaseDir, "log")
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(logDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger.With("command", operation)}

	a, err := build(ctx, cfg, log, clock, op)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, log cr.Logger, clock cr.Clock, op *Operation) (*App, error) {
	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Backup.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Backup.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	provider, err := database.NewProviderFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database provider: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := database.NewStore(provider, database.Options{
		Logger:         log,
		Metrics:        database.NewMetrics(cfg.Metrics.Namespace, registry),
		Clock:          clock,
		IDs:            cr.UUIDGenerator{},
		CacheTTL:       cfg.Cache.TTL.Duration,
		BulkThreshold:  cfg.Database.BulkThreshold,
		AcquireTimeout: cfg.Database.AcquireTimeout.Duration,
	})

	return &App{
		cfg:       cfg,
		store:     store,
		archive:   arch,
		encryptor: enc,
		registry:  registry,
		log:       log,
		clock:     clock,
		op:        op,
	}, nil
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Store() *database.Store { return a.store }

// Registry holds the store metrics plus the Go and process collectors.
func (a *App) Registry() *prometheus.Registry { return a.registry }

func (a *App) Logger() cr.Logger { return a.log }

func (a *App) Operation() *Operation { return a.op }

// InitDatabase creates the database if it is missing, then the schema and the
// default content.
func (a *App) InitDatabase(ctx context.Context) error {
	p := a.store.Provider()
	exists, err := p.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := p.Create(ctx); err != nil {
			return fmt.Errorf("creating database: %w", err)
		}
		a.log.Info("central repository database created", "engine", p.Dialect().Name())
	}
	if err := p.Verify(ctx); err != nil {
		return err
	}
	if v, err := a.store.SchemaVersion(ctx); err == nil {
		return fmt.Errorf("%w at schema %s", ErrAlreadyInitialized, v)
	}
	return a.store.Initialize(ctx)
}

// Open verifies the repository exists and its schema matches the software.
// Commands that read or write content call it before touching the store.
func (a *App) Open(ctx context.Context) error {
	p := a.store.Provider()
	exists, err := p.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return cr.ErrRepositoryMissing
	}
	v, err := a.store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	switch {
	case v.Major > cr.CurrentSchema.Major:
		return &cr.SchemaVersionError{Persisted: v, Software: cr.CurrentSchema, Err: cr.ErrIncompatibleSchema}
	case v.Less(cr.CurrentSchema):
		return fmt.Errorf("repository schema %s, software schema %s: %w", v, cr.CurrentSchema, ErrSchemaOutdated)
	}
	return nil
}

// Finish records the outcome of the command. Close logs it.
func (a *App) Finish(err error) {
	a.op.Finish(a.clock, err)
}

// Close flushes and closes the store, then logs the operation outcome.
func (a *App) Close() error {
	err := a.store.Close()
	if err != nil {
		err = fmt.Errorf("closing store: %w", err)
	}

	a.op.Finish(a.clock, err)
	if a.op.Err != nil {
		a.log.Error("operation finished", "status", a.op.Status(), "duration", a.op.Duration(), "error", a.op.Err)
	} else {
		a.log.Debug("operation finished", "status", a.op.Status(), "duration", a.op.Duration())
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
