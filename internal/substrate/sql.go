package substrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// sqlDialect captures the differences between SQL substrates.
type sqlDialect struct {
	kind string

	// numbered rewrites ? placeholders to $1, $2, ...
	numbered bool

	// readOnlyViews runs View in a read-only transaction.
	readOnlyViews bool

	// writeLock, when set, runs first in every write transaction with the
	// entries table name as its argument. It must block until no other
	// write transaction on the same store is running.
	writeLock string

	// ddl returns the statements creating the three tables.
	ddl func(entries, buckets, sequences string) []string
}

func (d sqlDialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// sqlQueries are prepared once per open store.
type sqlQueries struct {
	store                            string
	writeLock                        string
	get, scanAll, scanFrom, put, del string
	bucketExists, createBucket       string
	nextSequence, bumpSequence       string
}

func buildQueries(d sqlDialect, entries, buckets, sequences string) sqlQueries {
	q := sqlQueries{
		store: entries,
		get:      d.rebind(`SELECT v FROM ` + entries + ` WHERE bucket = ? AND k = ?`),
		scanAll:  d.rebind(`SELECT k, v FROM ` + entries + ` WHERE bucket = ? ORDER BY k LIMIT ?`),
		scanFrom: d.rebind(`SELECT k, v FROM ` + entries + ` WHERE bucket = ? AND k >= ? ORDER BY k LIMIT ?`),
		put: d.rebind(`INSERT INTO ` + entries + ` (bucket, k, v) VALUES (?, ?, ?)
			ON CONFLICT (bucket, k) DO UPDATE SET v = excluded.v`),
		del:          d.rebind(`DELETE FROM ` + entries + ` WHERE bucket = ? AND k = ?`),
		bucketExists: d.rebind(`SELECT COUNT(*) FROM ` + buckets + ` WHERE name = ?`),
		createBucket: d.rebind(`INSERT INTO ` + buckets + ` (name) VALUES (?) ON CONFLICT (name) DO NOTHING`),
		nextSequence: d.rebind(`INSERT INTO ` + sequences + ` AS s (bucket, value) VALUES (?, 1)
			ON CONFLICT (bucket) DO UPDATE SET value = s.value + 1
			RETURNING value`),
		bumpSequence: d.rebind(`INSERT INTO ` + sequences + ` AS s (bucket, value) VALUES (?, ?)
			ON CONFLICT (bucket) DO UPDATE SET value = CASE WHEN s.value < excluded.value THEN excluded.value ELSE s.value END`),
	}
	if d.writeLock != "" {
		q.writeLock = d.rebind(d.writeLock)
	}
	return q
}

// sqlKV implements KV over database/sql.
type sqlKV struct {
	db      *sql.DB
	dialect sqlDialect
	q       sqlQueries

	// onClose runs after the pool closes (lock release).
	onClose func() error
}

func newSQLKV(ctx context.Context, db *sql.DB, d sqlDialect, entries, buckets, sequences string) (*sqlKV, error) {
	for _, stmt := range d.ddl(entries, buckets, sequences) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create %s tables: %w", d.kind, err)
		}
	}
	return &sqlKV{db: db, dialect: d, q: buildQueries(d, entries, buckets, sequences)}, nil
}

func (s *sqlKV) View(ctx context.Context, fn func(ReadTx) error) error {
	var opts *sql.TxOptions
	if s.dialect.readOnlyViews {
		opts = &sql.TxOptions{ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin view: %w", err)
	}
	defer tx.Rollback() // read-only: nothing to commit
	return fn(&sqlTx{ctx: ctx, tx: tx, q: &s.q})
}

func (s *sqlKV) Update(ctx context.Context, fn func(WriteTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() // no-op after commit
	if s.q.writeLock != "" {
		if _, err := tx.ExecContext(ctx, s.q.writeLock, s.q.store); err != nil {
			return fmt.Errorf("lock store: %w", err)
		}
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx, q: &s.q}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqlKV) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlKV) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		err = errors.Join(err, s.onClose())
	}
	return err
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
	q   *sqlQueries
}

func (t *sqlTx) Get(bucket string, key []byte) ([]byte, error) {
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, t.q.get, bucket, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", bucket, err)
	}
	return v, nil
}

func (t *sqlTx) Scan(bucket string, start, prefix []byte, fn func(k, v []byte) (bool, error)) error {
	fetch := func(from []byte, limit int) ([]pair, error) {
		var (
			rows *sql.Rows
			err  error
		)
		if len(from) == 0 {
			rows, err = t.tx.QueryContext(t.ctx, t.q.scanAll, bucket, limit)
		} else {
			rows, err = t.tx.QueryContext(t.ctx, t.q.scanFrom, bucket, from, limit)
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		defer rows.Close()

		var batch []pair
		for rows.Next() {
			var p pair
			if err := rows.Scan(&p.k, &p.v); err != nil {
				return nil, fmt.Errorf("scan %s: %w", bucket, err)
			}
			batch = append(batch, p)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("scan %s: %w", bucket, err)
		}
		return batch, nil
	}
	return scanBatches(fetch, start, prefix, fn)
}

func (t *sqlTx) BucketExists(bucket string) (bool, error) {
	var n int
	if err := t.tx.QueryRowContext(t.ctx, t.q.bucketExists, bucket).Scan(&n); err != nil {
		return false, fmt.Errorf("bucket exists %s: %w", bucket, err)
	}
	return n > 0, nil
}

func (t *sqlTx) CreateBucket(bucket string) error {
	if _, err := t.tx.ExecContext(t.ctx, t.q.createBucket, bucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (t *sqlTx) Put(bucket string, key, value []byte) error {
	if _, err := t.tx.ExecContext(t.ctx, t.q.put, bucket, key, value); err != nil {
		return fmt.Errorf("put %s: %w", bucket, err)
	}
	return nil
}

func (t *sqlTx) Delete(bucket string, key []byte) error {
	if _, err := t.tx.ExecContext(t.ctx, t.q.del, bucket, key); err != nil {
		return fmt.Errorf("delete %s: %w", bucket, err)
	}
	return nil
}

func (t *sqlTx) NextSequence(bucket string) (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(t.ctx, t.q.nextSequence, bucket).Scan(&n); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", bucket, err)
	}
	return uint64(n), nil
}

func (t *sqlTx) BumpSequence(bucket string, n uint64) error {
	if _, err := t.tx.ExecContext(t.ctx, t.q.bumpSequence, bucket, int64(n)); err != nil {
		return fmt.Errorf("bump sequence %s: %w", bucket, err)
	}
	return nil
}
