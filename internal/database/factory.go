package database

import (
	"fmt"

	"crepo/internal/config"
)

// NewProviderFromConfig creates a Provider based on the database config type.
func NewProviderFromConfig(cfg config.DatabaseConfig) (Provider, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite database")
		}
		return NewSQLiteProvider(cfg.Path), nil
	case "memory":
		return NewMemoryProvider(), nil
	case "postgres":
		if cfg.Host == "" || cfg.Name == "" {
			return nil, fmt.Errorf("host and name required for postgres database")
		}
		port := cfg.Port
		if port == 0 {
			port = config.DefaultPostgresPort
		}
		return NewPostgresProvider(PostgresConfig{
			Host:     cfg.Host,
			Port:     port,
			Name:     cfg.Name,
			User:     cfg.User,
			Password: cfg.Password,
		}), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
