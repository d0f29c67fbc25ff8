package substrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
	_ "modernc.org/sqlite"          // registers "sqlite"
)

var sqliteDialect = sqlDialect{
	kind: KindSQLite,
	ddl: func(entries, buckets, sequences string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + entries + ` (
				bucket TEXT NOT NULL,
				k      BLOB NOT NULL,
				v      BLOB NOT NULL,
				PRIMARY KEY (bucket, k)
			) WITHOUT ROWID`,
			`CREATE TABLE IF NOT EXISTS ` + buckets + ` (name TEXT PRIMARY KEY)`,
			`CREATE TABLE IF NOT EXISTS ` + sequences + ` (
				bucket TEXT PRIMARY KEY,
				value  INTEGER NOT NULL
			)`,
		}
	},
}

// SQLiteBackend stores each store in "<dir>/<store>.sqlite".
type SQLiteBackend struct {
	opts   Options
	kind   string
	driver string
}

// NewSQLite creates a backend using github.com/mattn/go-sqlite3 (cgo).
func NewSQLite(opts Options) (*SQLiteBackend, error) {
	return newSQLiteBackend(opts, KindSQLite, "sqlite3")
}

// NewSQLitePureGo creates a backend using modernc.org/sqlite (no cgo).
// Files are interchangeable with NewSQLite.
func NewSQLitePureGo(opts Options) (*SQLiteBackend, error) {
	return newSQLiteBackend(opts, KindSQLitePureGo, "sqlite")
}

func newSQLiteBackend(opts Options, kind, driver string) (*SQLiteBackend, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%s backend: data directory is required", kind)
	}
	return &SQLiteBackend{opts: opts, kind: kind, driver: driver}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return b.kind }

func (b *SQLiteBackend) path(store string) string {
	return filepath.Join(b.opts.Dir, store+".sqlite")
}

func (b *SQLiteBackend) lockPath(store string) string {
	return filepath.Join(b.opts.Dir, store+".lock")
}

// Open implements Backend.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode so a committed write survives power loss
//   - 5-second busy timeout for lock contention
//   - a single connection, since SQLite has one writer at a time
func (b *SQLiteBackend) Open(ctx context.Context, store string) (KV, error) {
	if err := ValidateStoreName(store); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lk, err := acquireLock(ctx, b.lockPath(store), b.opts.lockTimeout())
	if err != nil {
		return nil, err
	}

	path := b.path(store)
	db, err := sql.Open(b.driver, path)
	if err != nil {
		_ = releaseLock(lk, false)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	fail := func(err error) (KV, error) {
		_ = db.Close()
		_ = releaseLock(lk, false)
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return fail(fmt.Errorf("connect %s: %w", path, err))
	}
	if err := applyPragmas(ctx, db); err != nil {
		return fail(err)
	}
	kv, err := newSQLKV(ctx, db, sqliteDialect, "entries", "buckets", "sequences")
	if err != nil {
		return fail(err)
	}
	kv.onClose = func() error { return releaseLock(lk, false) }

	b.opts.logger().Debug("sqlite store opened", slog.String("path", path), slog.String("driver", b.driver))
	return kv, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Exists implements Backend.
func (b *SQLiteBackend) Exists(_ context.Context, store string) (bool, error) {
	return fileExists(b.path(store))
}

// Destroy implements Backend. It takes the store lock first, so it fails
// with ErrLocked while the store is open.
func (b *SQLiteBackend) Destroy(ctx context.Context, store string) error {
	if err := ValidateStoreName(store); err != nil {
		return err
	}
	if ok, err := fileExists(b.path(store)); err != nil || !ok {
		return err
	}
	lk, err := acquireLock(ctx, b.lockPath(store), b.opts.lockTimeout())
	if err != nil {
		return err
	}
	path := b.path(store)
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	errs = append(errs, releaseLock(lk, true))
	if err := errors.Join(errs...); err != nil {
		return err
	}
	b.opts.logger().Debug("sqlite store destroyed", slog.String("path", path))
	return nil
}
