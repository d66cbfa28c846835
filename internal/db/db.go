// Package db opens the SQLite databases treesync keeps under its cache directory.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/treesync/internal/utils"
)

// MemoryPath opens a database that lives as long as its connection.
const MemoryPath = ":memory:"

// The cache has one writer per local root, guarded by the run lock.
const pragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=8000;
`

type options struct {
	schema []string
}

type Option func(*options)

// WithSchema runs ddl after the pragmas on every open. It must be idempotent.
func WithSchema(ddl string) Option {
	return func(o *options) {
		o.schema = append(o.schema, ddl)
	}
}

// Open opens the database at path over a single connection, creating the parent
// directory when needed.
func Open(path string, opts ...Option) (*sqlx.DB, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	dsn := MemoryPath
	if path != MemoryPath {
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	}

	database, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	// a second connection to :memory: would see an empty database
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(pragmas); err != nil {
		database.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	for _, ddl := range o.schema {
		if _, err := database.Exec(ddl); err != nil {
			database.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	slog.Debug("db opened", "driver", driverID, "path", path)
	return database, nil
}
