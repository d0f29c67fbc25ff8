package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/localdb/internal/dberr"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
)

const (
	metaBucket = "_meta"
	metaVer    = "version"
	metaSchema = "schema"
)

func tableBucket(table string) string { return "t/" + table }

func indexBucket(table, index string) string { return "i/" + table + "/" + index }

// Options configure Open.
type Options struct {
	// Backend hosts the store. Required.
	Backend substrate.Backend

	// Logger defaults to the "engine" component logger.
	Logger *slog.Logger
}

// DB is an open store.
//
// Thread-safety: all methods are safe for concurrent use. Operations hold
// the read side of mu while they touch the substrate; Close takes the write
// side, so it waits for in-flight operations and every later call fails
// with HandleClosed.
type DB struct {
	name    string
	def     *schema.Definition
	backend substrate.Backend
	log     *slog.Logger

	validators map[string]*gojsonschema.Schema

	mu     sync.RWMutex
	kv     substrate.KV
	closed bool
}

// Open opens the named store at version, creating it if absent and
// migrating it forward through every version declared in reg.
//
// Errors:
//   - SchemaMismatch: version not declared, or the stored schema for the
//     stored version differs from the declared one
//   - VersionSkew: the store is already at a newer version
//   - SubstrateFailure: the backend failed
func Open(ctx context.Context, name string, version int, reg *schema.Registry, opts Options) (*DB, error) {
	if opts.Backend == nil {
		return nil, errors.New("engine: Options.Backend is required")
	}
	if err := substrate.ValidateStoreName(name); err != nil {
		return nil, err
	}
	target, ok := reg.Definition(version)
	if !ok {
		return nil, &dberr.Error{
			Code:    dberr.CodeSchemaMismatch,
			Message: fmt.Sprintf("version %d is not declared", version),
			Store:   name,
		}
	}
	validators, err := compileValidators(target)
	if err != nil {
		return nil, withStore(err, name)
	}

	logger := opts.Logger
	if logger == nil {
		logger = applog.WithComponent("engine")
	}
	logger = logger.With(slog.String("store", name))

	kv, err := opts.Backend.Open(ctx, name)
	if err != nil {
		return nil, withStore(dberr.Substrate(err, "open store"), name)
	}

	db := &DB{
		name:       name,
		def:        target,
		backend:    opts.Backend,
		log:        logger,
		validators: validators,
		kv:         kv,
	}
	if err := db.migrate(ctx, reg); err != nil {
		if cerr := kv.Close(); cerr != nil {
			logger.Warn("close after failed open", slog.Any("err", cerr))
		}
		return nil, withStore(err, name)
	}
	logger.Debug("store open", slog.Int("version", version), slog.String("backend", opts.Backend.Name()))
	return db, nil
}

// Name returns the store name.
func (db *DB) Name() string { return db.name }

// Version returns the schema version the store was opened at.
func (db *DB) Version() int { return db.def.Version() }

// Definition returns the schema the store was opened with.
func (db *DB) Definition() *schema.Definition { return db.def }

// Tables returns the table names in sorted order.
func (db *DB) Tables() []string { return db.def.TableNames() }

// Backend returns the backend hosting the store.
func (db *DB) Backend() substrate.Backend { return db.backend }

// Closed reports whether Close or Destroy has been called.
func (db *DB) Closed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// Close releases the substrate. Later operations fail with HandleClosed.
// Calling Close more than once is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.kv.Close(); err != nil {
		return withStore(dberr.Substrate(err, "close store"), db.name)
	}
	db.log.Debug("store closed")
	return nil
}

// Destroy closes the DB if needed, then irreversibly deletes the store.
func (db *DB) Destroy(ctx context.Context) error {
	if err := db.Close(); err != nil {
		return err
	}
	if err := db.backend.Destroy(ctx, db.name); err != nil {
		return withStore(dberr.Substrate(err, "destroy store"), db.name)
	}
	db.log.Info("store destroyed")
	return nil
}

// DestroyStore deletes a store that is not open in this process.
// Deleting a store that does not exist is a no-op.
func DestroyStore(ctx context.Context, backend substrate.Backend, name string) error {
	exists, err := backend.Exists(ctx, name)
	if err != nil {
		return withStore(dberr.Substrate(err, "check store"), name)
	}
	if !exists {
		return nil
	}
	if err := backend.Destroy(ctx, name); err != nil {
		return withStore(dberr.Substrate(err, "destroy store"), name)
	}
	return nil
}

// Ping checks that the store is open and readable.
func (db *DB) Ping(ctx context.Context) error {
	return db.view(ctx, "ping", func(tx substrate.ReadTx) error {
		v, err := tx.Get(metaBucket, []byte(metaVer))
		if err != nil {
			return err
		}
		if v == nil {
			return errors.New("schema version missing")
		}
		return nil
	})
}

// view runs fn in a read transaction, failing with HandleClosed after Close.
func (db *DB) view(ctx context.Context, op string, fn func(substrate.ReadTx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return db.closedErr(op)
	}
	if err := db.kv.View(ctx, fn); err != nil {
		return withStore(dberr.Substrate(err, op), db.name)
	}
	return nil
}

// update runs fn in a write transaction, failing with HandleClosed after Close.
func (db *DB) update(ctx context.Context, op string, fn func(substrate.WriteTx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return db.closedErr(op)
	}
	if err := db.kv.Update(ctx, fn); err != nil {
		return withStore(dberr.Substrate(err, op), db.name)
	}
	return nil
}

func (db *DB) closedErr(op string) error {
	return &dberr.Error{Code: dberr.CodeHandleClosed, Message: op + " on closed store", Store: db.name}
}

// table resolves a table name against the open schema.
func (db *DB) table(name string) (*schema.Table, error) {
	t, ok := db.def.Table(name)
	if !ok {
		return nil, &dberr.Error{
			Code:    dberr.CodeUnknownTable,
			Message: fmt.Sprintf("table not in schema version %d", db.def.Version()),
			Store:   db.name,
			Table:   name,
		}
	}
	return t, nil
}

// withStore fills in the Store field of a coded error.
func withStore(err error, store string) error {
	var e *dberr.Error
	if errors.As(err, &e) && e.Store == "" {
		e.Store = store
	}
	return err
}
