package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/expr-lang/expr"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/record"
	"github.com/roach88/localdb/internal/substrate"
)

// pageSize bounds how many entries one read transaction loads for a query.
const pageSize = 128

// All yields every record of table in primary-key order.
func (db *DB) All(ctx context.Context, table string) iter.Seq2[json.RawMessage, error] {
	if _, err := db.table(table); err != nil {
		return fail(err)
	}
	return db.pages(ctx, "all", tableBucket(table), nil, nil)
}

// QueryByIndex yields the records whose index value equals value, in
// primary-key order. For multi-entry indexes a record matches when any
// element equals value; for compound indexes value is a slice with one
// element per key path. Querying the primary key by name yields at most one
// record.
func (db *DB) QueryByIndex(ctx context.Context, table, index string, value any) iter.Seq2[json.RawMessage, error] {
	t, err := db.table(table)
	if err != nil {
		return fail(err)
	}
	enc, err := encodeKey(t, value)
	if err != nil {
		return fail(err)
	}
	if index == t.PrimaryKey.Name {
		return db.pages(ctx, "query", tableBucket(table), enc, func(_ substrate.ReadTx, k, v []byte) ([]byte, error) {
			if !bytes.Equal(k, enc) {
				return nil, nil
			}
			return v, nil
		})
	}
	if _, ok := t.Index(index); !ok {
		return fail(&dberr.Error{
			Code:    dberr.CodeSchemaMismatch,
			Message: fmt.Sprintf("no index %q", index),
			Store:   db.name,
			Table:   table,
		})
	}
	return db.pages(ctx, "query", indexBucket(table, index), enc, func(tx substrate.ReadTx, _, pk []byte) ([]byte, error) {
		return tx.Get(tableBucket(table), pk)
	})
}

// Filter yields the records of table for which expression evaluates to
// true. The expression sees the record's top-level fields as variables;
// fields a record lacks evaluate to nil.
//
//	status == "pending" && attempts < 3
func (db *DB) Filter(ctx context.Context, table, expression string) iter.Seq2[json.RawMessage, error] {
	if _, err := db.table(table); err != nil {
		return fail(err)
	}
	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return fail(fmt.Errorf("compile filter %q: %w", expression, err))
	}
	return func(yield func(json.RawMessage, error) bool) {
		for raw, err := range db.All(ctx, table) {
			if err != nil {
				yield(nil, err)
				return
			}
			doc, err := record.Decode(raw)
			if err != nil {
				yield(nil, fmt.Errorf("table %s: %w", table, err))
				return
			}
			out, err := expr.Run(program, record.Plain(doc))
			if err != nil {
				yield(nil, fmt.Errorf("evaluate filter %q: %w", expression, err))
				return
			}
			match, ok := out.(bool)
			if !ok {
				yield(nil, fmt.Errorf("filter %q returned %T, want bool", expression, out))
				return
			}
			if match && !yield(raw, nil) {
				return
			}
		}
	}
}

// pages scans bucket from prefix, one read transaction per page. resolve
// maps an entry to the record to yield; nil skips it. A nil resolve yields
// entry values as-is.
func (db *DB) pages(ctx context.Context, op, bucket string, prefix []byte, resolve func(tx substrate.ReadTx, k, v []byte) ([]byte, error)) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		var start []byte
		for {
			var (
				page []json.RawMessage
				seen int
				last []byte
			)
			err := db.view(ctx, op, func(tx substrate.ReadTx) error {
				return tx.Scan(bucket, start, prefix, func(k, v []byte) (bool, error) {
					seen++
					last = k
					if resolve != nil {
						var err error
						if v, err = resolve(tx, k, v); err != nil {
							return false, err
						}
					}
					if v != nil {
						page = append(page, v)
					}
					return seen < pageSize, nil
				})
			})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if seen < pageSize {
				return
			}
			start = append(bytes.Clone(last), 0x00)
		}
	}
}

func fail(err error) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		yield(nil, err)
	}
}
