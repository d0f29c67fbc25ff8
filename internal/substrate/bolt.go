package substrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// BoltBackend stores each store in "<dir>/<store>.db".
type BoltBackend struct {
	opts Options
}

// NewBolt creates a bbolt backend rooted at opts.Dir.
func NewBolt(opts Options) (*BoltBackend, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("bolt backend: data directory is required")
	}
	return &BoltBackend{opts: opts}, nil
}

// Name implements Backend.
func (b *BoltBackend) Name() string { return KindBolt }

func (b *BoltBackend) path(store string) string {
	return filepath.Join(b.opts.Dir, store+".db")
}

// Open implements Backend.
func (b *BoltBackend) Open(ctx context.Context, store string) (KV, error) {
	if err := ValidateStoreName(store); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := b.path(store)
	// bbolt flocks the file itself; Timeout bounds the wait for another holder.
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: b.opts.lockTimeout()})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	b.opts.logger().Debug("bolt store opened", slog.String("path", path))
	return &boltKV{db: db}, nil
}

// Exists implements Backend.
func (b *BoltBackend) Exists(_ context.Context, store string) (bool, error) {
	return fileExists(b.path(store))
}

// Destroy implements Backend.
func (b *BoltBackend) Destroy(_ context.Context, store string) error {
	if err := ValidateStoreName(store); err != nil {
		return err
	}
	path := b.path(store)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	b.opts.logger().Debug("bolt store destroyed", slog.String("path", path))
	return nil
}

type boltKV struct {
	db *bolt.DB
}

func (s *boltKV) View(ctx context.Context, fn func(ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *boltKV) Update(ctx context.Context, fn func(WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (s *boltKV) Ping(ctx context.Context) error {
	return s.View(ctx, func(ReadTx) error { return nil })
}

func (s *boltKV) Close() error {
	return s.db.Close()
}

// boltTx implements WriteTx. Read-only bolt transactions reject writes
// themselves, so one adapter serves both.
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Get(bucket string, key []byte) ([]byte, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, nil
	}
	// Copy required: bbolt values are only valid for the transaction.
	return bytes.Clone(b.Get(key)), nil
}

func (t *boltTx) Scan(bucket string, start, prefix []byte, fn func(k, v []byte) (bool, error)) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	fetch := func(from []byte, limit int) ([]pair, error) {
		var batch []pair
		c := b.Cursor()
		for k, v := c.Seek(from); k != nil && len(batch) < limit; k, v = c.Next() {
			batch = append(batch, pair{k: bytes.Clone(k), v: bytes.Clone(v)})
		}
		return batch, nil
	}
	return scanBatches(fetch, start, prefix, fn)
}

func (t *boltTx) BucketExists(bucket string) (bool, error) {
	return t.tx.Bucket([]byte(bucket)) != nil, nil
}

func (t *boltTx) CreateBucket(bucket string) error {
	_, err := t.tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (t *boltTx) bucket(name string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}

func (t *boltTx) Put(bucket string, key, value []byte) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *boltTx) Delete(bucket string, key []byte) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (t *boltTx) NextSequence(bucket string) (uint64, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return 0, err
	}
	return b.NextSequence()
}

func (t *boltTx) BumpSequence(bucket string, n uint64) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	if b.Sequence() >= n {
		return nil
	}
	return b.SetSequence(n)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
