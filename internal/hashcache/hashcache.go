// Package hashcache remembers the MD5 of local files between runs so unchanged
// files are not read again. Entries are keyed by absolute path and are valid as
// long as the file size and modification time are unchanged.
package hashcache

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/treesync/internal/db"
	"github.com/openmined/treesync/internal/utils"
)

const (
	// MemoryPath keeps the cache for the lifetime of the process only
	MemoryPath = db.MemoryPath

	defaultMemEntries = 8192
)

const schema = `
CREATE TABLE IF NOT EXISTS file_hashes (
    path TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    mtime_ns INTEGER NOT NULL,
    md5 TEXT NOT NULL,
    checked_at INTEGER NOT NULL -- unix seconds
);

CREATE INDEX IF NOT EXISTS idx_file_hashes_checked_at ON file_hashes(checked_at);
`

var ErrNotOpen = errors.New("hash cache not open")

type record struct {
	Path      string `db:"path"`
	Size      int64  `db:"size"`
	MtimeNs   int64  `db:"mtime_ns"`
	MD5       string `db:"md5"`
	CheckedAt int64  `db:"checked_at"`
}

func (r record) matches(info os.FileInfo) bool {
	return r.Size == info.Size() && r.MtimeNs == info.ModTime().UnixNano()
}

// Cache is a hash cache backed by SQLite with an in-process LRU in front.
type Cache struct {
	dbPath     string
	memEntries int
	hashFile   func(string) (string, error)
	now        func() time.Time

	db  *sqlx.DB
	mem *lru.Cache[string, record]
}

type Option func(*Cache)

// WithMemoryEntries sets the size of the in-process LRU.
func WithMemoryEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.memEntries = n
		}
	}
}

// WithHashFunc replaces the function used on a cache miss.
func WithHashFunc(fn func(string) (string, error)) Option {
	return func(c *Cache) {
		c.hashFile = fn
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New returns a closed cache stored at dbPath. Use MemoryPath for a per-process cache.
func New(dbPath string, opts ...Option) *Cache {
	c := &Cache{
		dbPath:     dbPath,
		memEntries: defaultMemEntries,
		hashFile:   utils.FileHash,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens the database and creates the schema.
func (c *Cache) Open() error {
	if c.db != nil {
		return fmt.Errorf("hash cache already open")
	}

	mem, err := lru.New[string, record](c.memEntries)
	if err != nil {
		return fmt.Errorf("failed to create memory cache: %w", err)
	}

	database, err := db.Open(c.dbPath, db.WithSchema(schema))
	if err != nil {
		return fmt.Errorf("failed to open hash cache: %w", err)
	}

	c.db = database
	c.mem = mem
	slog.Debug("hash cache opened", "path", c.dbPath)
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return ErrNotOpen
	}
	err := c.db.Close()
	c.db = nil
	c.mem = nil
	if err != nil {
		return fmt.Errorf("failed to close hash cache: %w", err)
	}
	slog.Debug("hash cache closed")
	return nil
}

// Hash returns the MD5 hex digest of path, reading the file only when the cached
// size or modification time no longer match.
func (c *Cache) Hash(path string) (string, error) {
	if c.db == nil {
		return "", ErrNotOpen
	}

	key, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	info, err := os.Stat(key)
	if err != nil {
		return "", err
	}

	if rec, ok := c.mem.Get(key); ok && rec.matches(info) {
		return rec.MD5, nil
	}

	var rec record
	err = c.db.Get(&rec, "SELECT path, size, mtime_ns, md5, checked_at FROM file_hashes WHERE path = ?", key)
	switch {
	case err == nil && rec.matches(info):
		rec.CheckedAt = c.now().Unix()
		if _, err := c.db.Exec("UPDATE file_hashes SET checked_at = ? WHERE path = ?", rec.CheckedAt, key); err != nil {
			slog.Warn("hash cache touch failed", "path", key, "error", err)
		}
		c.mem.Add(key, rec)
		return rec.MD5, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		slog.Warn("hash cache lookup failed", "path", key, "error", err)
	}

	hash, err := c.hashFile(key)
	if err != nil {
		return "", err
	}

	rec = record{
		Path:      key,
		Size:      info.Size(),
		MtimeNs:   info.ModTime().UnixNano(),
		MD5:       hash,
		CheckedAt: c.now().Unix(),
	}
	query := `INSERT OR REPLACE INTO file_hashes (path, size, mtime_ns, md5, checked_at)
	          VALUES (:path, :size, :mtime_ns, :md5, :checked_at)`
	if _, err := c.db.NamedExec(query, rec); err != nil {
		// a cache write failure never fails the hash
		slog.Warn("hash cache store failed", "path", key, "error", err)
	}
	c.mem.Add(key, rec)

	return hash, nil
}

// Forget drops the entry for path.
func (c *Cache) Forget(path string) error {
	if c.db == nil {
		return ErrNotOpen
	}
	key, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	c.mem.Remove(key)
	if _, err := c.db.Exec("DELETE FROM file_hashes WHERE path = ?", key); err != nil {
		return fmt.Errorf("failed to forget %s: %w", key, err)
	}
	return nil
}

// Count returns the number of persisted entries.
func (c *Cache) Count() (int, error) {
	if c.db == nil {
		return 0, ErrNotOpen
	}
	var count int
	if err := c.db.Get(&count, "SELECT COUNT(*) FROM file_hashes"); err != nil {
		return 0, fmt.Errorf("failed to count hash cache entries: %w", err)
	}
	return count, nil
}

// Prune removes the entries that were not used during the last olderThan and
// returns how many were removed.
func (c *Cache) Prune(olderThan time.Duration) (int64, error) {
	if c.db == nil {
		return 0, ErrNotOpen
	}
	cutoff := c.now().Add(-olderThan).Unix()
	res, err := c.db.Exec("DELETE FROM file_hashes WHERE checked_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune hash cache: %w", err)
	}
	n, _ := res.RowsAffected()
	c.mem.Purge()
	slog.Debug("hash cache pruned", "removed", n)
	return n, nil
}
