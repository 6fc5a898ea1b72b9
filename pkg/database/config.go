package database

import (
	"database/sql"
	"errors"
	"time"
)

// Config holds SQLite connection settings.
type Config struct {
	DatabasePath    string        `json:"database_path" yaml:"database_path" env:"LIVECLASS_DATABASE_PATH"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections" env:"LIVECLASS_DATABASE_MAX_CONNECTIONS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"LIVECLASS_DATABASE_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" env:"LIVECLASS_DATABASE_CONN_MAX_IDLE_TIME"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"LIVECLASS_DATABASE_WRITE_TIMEOUT"`
	WriteRetryDelay time.Duration `json:"write_retry_delay" yaml:"write_retry_delay" env:"LIVECLASS_DATABASE_WRITE_RETRY_DELAY"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/liveclass.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
		WriteRetryDelay: time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}

// sqliteOptimizations are applied to every freshly opened pool.
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations sets the pragmas the repository relies on.
func ApplySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
