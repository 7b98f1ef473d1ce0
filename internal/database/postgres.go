package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"crepo/internal/cr"
	"crepo/internal/database/dialect"
)

const (
	postgresMaxOpenConns = 16
	postgresAdminDB      = "postgres"
)

// PostgresConfig holds the connection settings of a PostgreSQL repository.
type PostgresConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// DSN returns a connection URL for database db on the configured server.
func (c PostgresConfig) DSN(db string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// PostgresProvider serves a shared PostgreSQL repository. Concurrent clients are
// coordinated by the server, so the store lock is a no-op.
type PostgresProvider struct {
	cfg PostgresConfig

	mu   sync.Mutex
	pool *sql.DB
}

// NewPostgresProvider creates a provider for cfg.
func NewPostgresProvider(cfg PostgresConfig) *PostgresProvider {
	return &PostgresProvider{cfg: cfg}
}

func (p *PostgresProvider) Dialect() dialect.Dialect { return dialect.Postgres{} }

func (p *PostgresProvider) Locker() Locker { return noopLocker{} }

func (p *PostgresProvider) SupportsReset() bool { return false }

func (p *PostgresProvider) open(ctx context.Context, db string, maxConns int) (*sql.DB, error) {
	conn, err := sql.Open("pgx", p.cfg.DSN(db))
	if err != nil {
		return nil, &cr.ConnectivityError{Backend: "postgres", Err: err}
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, &cr.ConnectivityError{Backend: "postgres", Err: err}
	}
	return conn, nil
}

func (p *PostgresProvider) Pool(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}
	db, err := p.open(ctx, p.cfg.Name, postgresMaxOpenConns)
	if err != nil {
		return nil, err
	}
	p.pool = db
	return db, nil
}

// Ephemeral opens a single connection to the repository database. PostgreSQL
// always enforces foreign keys, so foreignKeys is ignored.
func (p *PostgresProvider) Ephemeral(ctx context.Context, foreignKeys bool) (*sql.DB, error) {
	return p.open(ctx, p.cfg.Name, 1)
}

// Verify checks the server over a throwaway connection and leaves the pool
// unopened.
func (p *PostgresProvider) Verify(ctx context.Context) error {
	db, err := p.Ephemeral(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return &cr.ConnectivityError{Backend: "postgres", Err: err}
	}
	return nil
}

// Exists asks the admin database whether the repository database has been created.
func (p *PostgresProvider) Exists(ctx context.Context) (bool, error) {
	admin, err := p.open(ctx, postgresAdminDB, 1)
	if err != nil {
		return false, err
	}
	defer admin.Close()

	var one int
	err = admin.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", p.cfg.Name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, cr.NewStorageError("checking database existence", err)
	}
	return true, nil
}

// Create issues CREATE DATABASE through the admin database.
func (p *PostgresProvider) Create(ctx context.Context) error {
	admin, err := p.open(ctx, postgresAdminDB, 1)
	if err != nil {
		return err
	}
	defer admin.Close()

	stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
		pgx.Identifier{p.cfg.Name}.Sanitize(), pgx.Identifier{p.cfg.User}.Sanitize())
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return cr.NewStorageError("creating database", err)
	}
	return nil
}

func (p *PostgresProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool == nil {
		return nil
	}
	err := p.pool.Close()
	p.pool = nil
	return err
}

var _ Provider = (*PostgresProvider)(nil)
