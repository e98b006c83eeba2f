package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/marksync/marksync/internal/utils"
)

// MemoryPath opens a private in-memory database, used by tests and dry runs.
const MemoryPath = ":memory:"

// defaultPragma tunes sqlite for a small single-writer journal. WAL keeps
// readers from blocking the sync loop's writes.
const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=8000;
`

type config struct {
	path         string
	pragmas      string
	maxOpenConns int
}

// SqliteOption configures NewSqliteDb.
type SqliteOption func(*config)

// WithPath sets the database file path. MemoryPath selects an in-memory
// database instead.
func WithPath(path string) SqliteOption {
	return func(c *config) { c.path = path }
}

// WithPragmas replaces the default pragma block entirely.
func WithPragmas(pragmas string) SqliteOption {
	return func(c *config) { c.pragmas = pragmas }
}

// WithMaxOpenConns caps the pool size. An in-memory database needs a cap of
// one or each new connection sees a fresh empty database.
func WithMaxOpenConns(n int) SqliteOption {
	return func(c *config) { c.maxOpenConns = n }
}

// NewSqliteDb opens a sqlite database via sqlx, creating parent directories
// for file-backed paths.
func NewSqliteDb(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{path: MemoryPath, pragmas: defaultPragma}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := cfg.path
	if cfg.path != MemoryPath {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	}

	slog.Debug("db open", "driver", driverID, "path", cfg.path)
	sdb, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.maxOpenConns > 0 {
		sdb.SetMaxOpenConns(cfg.maxOpenConns)
	}

	if _, err := sdb.Exec(cfg.pragmas); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return sdb, nil
}
