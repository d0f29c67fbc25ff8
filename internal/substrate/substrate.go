package substrate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// ReadTx is a read-only view of the substrate.
type ReadTx interface {
	// Get returns the value for key, or nil if the key or bucket is absent.
	Get(bucket string, key []byte) ([]byte, error)

	// Scan calls fn for keys >= start that begin with prefix, ascending.
	// A nil start or prefix is unconstrained. Iteration stops when fn
	// returns false or an error. fn may write to the same transaction.
	Scan(bucket string, start, prefix []byte, fn func(k, v []byte) (bool, error)) error

	// BucketExists reports whether the bucket has been created.
	BucketExists(bucket string) (bool, error)
}

// WriteTx is a read-write view of the substrate.
type WriteTx interface {
	ReadTx

	// CreateBucket creates a bucket if it does not exist.
	CreateBucket(bucket string) error

	// Put stores value under key. The bucket must exist.
	Put(bucket string, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(bucket string, key []byte) error

	// NextSequence increments and returns the bucket's sequence.
	// The first call returns 1.
	NextSequence(bucket string) (uint64, error)

	// BumpSequence raises the bucket's sequence to at least n.
	BumpSequence(bucket string, n uint64) error
}

// KV is an open substrate.
type KV interface {
	View(ctx context.Context, fn func(ReadTx) error) error
	Update(ctx context.Context, fn func(WriteTx) error) error

	// Ping verifies the substrate is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Backend opens and deletes named stores.
type Backend interface {
	// Name returns the backend kind ("bolt", "sqlite", ...).
	Name() string

	// Open opens the named store, creating it if absent.
	Open(ctx context.Context, store string) (KV, error)

	// Exists reports whether the named store has been created.
	Exists(ctx context.Context, store string) (bool, error)

	// Destroy irreversibly deletes the named store. The store must not be open.
	Destroy(ctx context.Context, store string) error
}

// Backend kinds accepted by New.
const (
	KindBolt         = "bolt"
	KindSQLite       = "sqlite"
	KindSQLitePureGo = "sqlite-purego"
	KindPostgres     = "postgres"
)

// Kinds lists the accepted backend kinds.
var Kinds = []string{KindBolt, KindSQLite, KindSQLitePureGo, KindPostgres}

// Options configure a backend.
type Options struct {
	// Dir holds store files for file-backed backends.
	Dir string

	// DSN is the PostgreSQL connection string.
	DSN string

	// LockTimeout bounds how long Open waits for another holder of the
	// store's file lock. Zero uses DefaultLockTimeout.
	LockTimeout time.Duration

	// Logger receives debug logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultLockTimeout is the lock wait used when Options.LockTimeout is zero.
const DefaultLockTimeout = 250 * time.Millisecond

func (o Options) lockTimeout() time.Duration {
	if o.LockTimeout > 0 {
		return o.LockTimeout
	}
	return DefaultLockTimeout
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// New creates a backend of the given kind.
func New(kind string, opts Options) (Backend, error) {
	switch kind {
	case KindBolt:
		return NewBolt(opts)
	case KindSQLite:
		return NewSQLite(opts)
	case KindSQLitePureGo:
		return NewSQLitePureGo(opts)
	case KindPostgres:
		return NewPostgres(opts)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be one of %v", kind, Kinds)
	}
}

var storeNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateStoreName rejects names that cannot be used as file or schema names.
func ValidateStoreName(name string) error {
	if !storeNameRE.MatchString(name) {
		return fmt.Errorf("invalid store name %q: use letters, digits, '.', '_' or '-'", name)
	}
	return nil
}

// pair is one key/value read by a batched scan.
type pair struct {
	k, v []byte
}

// scanBatch bounds how many entries a scan buffers before invoking callbacks.
const scanBatch = 256

// scanBatches drives a Scan by repeatedly fetching up to scanBatch entries
// with key >= from. Callbacks run only after a batch is fully read, so they
// may write to the transaction without disturbing an open cursor.
func scanBatches(fetch func(from []byte, limit int) ([]pair, error), start, prefix []byte, fn func(k, v []byte) (bool, error)) error {
	from := start
	if prefix != nil && bytes.Compare(prefix, from) > 0 {
		from = prefix
	}
	if from == nil {
		from = []byte{}
	}
	for {
		batch, err := fetch(from, scanBatch)
		if err != nil {
			return err
		}
		for _, p := range batch {
			if prefix != nil && !bytes.HasPrefix(p.k, prefix) {
				return nil
			}
			more, err := fn(p.k, p.v)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		if len(batch) < scanBatch {
			return nil
		}
		last := batch[len(batch)-1].k
		from = append(bytes.Clone(last), 0x00)
	}
}
