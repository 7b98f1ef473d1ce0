package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"crepo/internal/cr"
	"crepo/internal/database/dialect"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteMaxOpenConns = 50

// SQLiteProvider serves an embedded SQLite repository. All store operations are
// serialized through a process-local reader/writer lock.
type SQLiteProvider struct {
	path   string // empty for memory mode
	memory string // shared-cache name in memory mode

	mu   sync.Mutex
	pool *sql.DB
	lock sync.RWMutex
}

// NewSQLiteProvider creates a provider for the database file at path.
func NewSQLiteProvider(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// NewMemoryProvider creates a provider for a private in-memory database. The database
// lives for as long as the pool is open.
func NewMemoryProvider() *SQLiteProvider {
	return &SQLiteProvider{memory: "crepo-" + uuid.New().String()}
}

// Path returns the database file path, or "" in memory mode.
func (p *SQLiteProvider) Path() string { return p.path }

func (p *SQLiteProvider) Dialect() dialect.Dialect { return dialect.SQLite{} }

func (p *SQLiteProvider) Locker() Locker { return &p.lock }

func (p *SQLiteProvider) SupportsReset() bool { return true }

// dsn builds the connection string. Memory mode shares one named database between
// connections; WAL is meaningless there and is skipped.
func (p *SQLiteProvider) dsn(foreignKeys bool) string {
	fk := "off"
	if foreignKeys {
		fk = "on"
	}
	if p.memory != "" {
		return "file:" + p.memory + "?mode=memory&cache=shared&_foreign_keys=" + fk + "&_busy_timeout=5000"
	}
	return "file:" + p.path + "?_foreign_keys=" + fk + "&_journal_mode=WAL&_synchronous=OFF&_busy_timeout=5000"
}

// OpenConnection opens and configures a SQLite handle for the provider's database.
func (p *SQLiteProvider) OpenConnection(foreignKeys bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", p.dsn(foreignKeys))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (p *SQLiteProvider) Pool(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}
	db, err := p.OpenConnection(true)
	if err != nil {
		return nil, &cr.ConnectivityError{Backend: "sqlite", Err: err}
	}
	db.SetMaxOpenConns(sqliteMaxOpenConns)
	if p.memory != "" {
		// The shared memory database is dropped with its last connection.
		db.SetConnMaxIdleTime(0)
		db.SetMaxIdleConns(sqliteMaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &cr.ConnectivityError{Backend: "sqlite", Err: err}
	}
	p.pool = db
	return db, nil
}

func (p *SQLiteProvider) Ephemeral(ctx context.Context, foreignKeys bool) (*sql.DB, error) {
	if p.memory != "" {
		// Keep the named database alive while the ephemeral handle is in use.
		if _, err := p.Pool(ctx); err != nil {
			return nil, err
		}
	}
	db, err := p.OpenConnection(foreignKeys)
	if err != nil {
		return nil, &cr.ConnectivityError{Backend: "sqlite", Err: err}
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &cr.ConnectivityError{Backend: "sqlite", Err: err}
	}
	return db, nil
}

func (p *SQLiteProvider) Verify(ctx context.Context) error {
	db, err := p.Pool(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return &cr.ConnectivityError{Backend: "sqlite", Err: err}
	}
	return nil
}

func (p *SQLiteProvider) Exists(ctx context.Context) (bool, error) {
	if p.memory != "" {
		return true, nil
	}
	_, err := os.Stat(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking database file: %w", err)
	}
	return true, nil
}

// Create makes the parent directory. The file itself is created on first open.
func (p *SQLiteProvider) Create(ctx context.Context) error {
	if p.memory != "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (p *SQLiteProvider) BackupTo(ctx context.Context, destPath string) error {
	db, err := p.Pool(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the pool. A memory database is discarded.
func (p *SQLiteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool == nil {
		return nil
	}
	err := p.pool.Close()
	p.pool = nil
	return err
}

var (
	_ Provider    = (*SQLiteProvider)(nil)
	_ Snapshotter = (*SQLiteProvider)(nil)
)
