package substrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
)

var postgresDialect = sqlDialect{
	kind:          KindPostgres,
	numbered:      true,
	readOnlyViews: true,
	// One writer per store at a time; the advisory lock is released at
	// commit or rollback.
	writeLock: `SELECT pg_advisory_xact_lock(hashtext(?))`,
	ddl: func(entries, buckets, sequences string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + entries + ` (
				bucket TEXT NOT NULL,
				k      BYTEA NOT NULL,
				v      BYTEA NOT NULL,
				PRIMARY KEY (bucket, k)
			)`,
			`CREATE TABLE IF NOT EXISTS ` + buckets + ` (name TEXT PRIMARY KEY)`,
			`CREATE TABLE IF NOT EXISTS ` + sequences + ` (
				bucket TEXT PRIMARY KEY,
				value  BIGINT NOT NULL
			)`,
		}
	},
}

// PostgresBackend keeps each store in its own PostgreSQL schema, named
// "localdb_<store>" with '.' and '-' mapped to '_'.
type PostgresBackend struct {
	opts Options
}

// NewPostgres creates a PostgreSQL backend. opts.DSN is required.
func NewPostgres(opts Options) (*PostgresBackend, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres backend: DSN is required")
	}
	return &PostgresBackend{opts: opts}, nil
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return KindPostgres }

// SchemaName returns the PostgreSQL schema holding store.
func SchemaName(store string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return "localdb_" + strings.ToLower(r.Replace(store))
}

func (b *PostgresBackend) connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("pgx", b.opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open implements Backend.
func (b *PostgresBackend) Open(ctx context.Context, store string) (KV, error) {
	if err := ValidateStoreName(store); err != nil {
		return nil, err
	}
	db, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	schema := SchemaName(store)
	if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema %s: %w", schema, err)
	}
	kv, err := newSQLKV(ctx, db, postgresDialect,
		pgx.Identifier{schema, "entries"}.Sanitize(),
		pgx.Identifier{schema, "buckets"}.Sanitize(),
		pgx.Identifier{schema, "sequences"}.Sanitize(),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.opts.logger().Debug("postgres store opened", slog.String("schema", schema))
	return kv, nil
}

// Exists implements Backend.
func (b *PostgresBackend) Exists(ctx context.Context, store string) (bool, error) {
	db, err := b.connect(ctx)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var exists bool
	err = db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		SchemaName(store),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check schema: %w", err)
	}
	return exists, nil
}

// Destroy implements Backend.
func (b *PostgresBackend) Destroy(ctx context.Context, store string) error {
	if err := ValidateStoreName(store); err != nil {
		return err
	}
	db, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	schema := SchemaName(store)
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`); err != nil {
		return fmt.Errorf("drop schema %s: %w", schema, err)
	}
	b.opts.logger().Debug("postgres store destroyed", slog.String("schema", schema))
	return nil
}
