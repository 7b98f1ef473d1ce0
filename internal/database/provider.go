package database

import (
	"context"
	"database/sql"

	"crepo/internal/database/dialect"
)

// Provider supplies connections to one backing engine.
type Provider interface {
	Dialect() dialect.Dialect

	// Pool returns the long-lived connection pool, opening it on first use.
	Pool(ctx context.Context) (*sql.DB, error)

	// Ephemeral opens a single-connection handle outside the pool. The caller closes it.
	// foreignKeys controls constraint enforcement where the engine allows toggling it.
	Ephemeral(ctx context.Context, foreignKeys bool) (*sql.DB, error)

	Locker() Locker

	// Verify checks that the database can be reached.
	Verify(ctx context.Context) error

	// Exists reports whether the database has been created.
	Exists(ctx context.Context) (bool, error)

	// Create creates the empty database.
	Create(ctx context.Context) error

	// SupportsReset reports whether all content may be wiped in place.
	SupportsReset() bool

	Close() error
}

// Snapshotter is implemented by providers that can write a consistent copy of the
// database to a local file.
type Snapshotter interface {
	BackupTo(ctx context.Context, destPath string) error
}
