package engine

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/record"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
)

func encodeKey(t *schema.Table, key any) ([]byte, error) {
	enc, err := record.EncodeKey(key)
	if err != nil {
		return nil, &dberr.Error{Code: dberr.CodeInvalidRecord, Message: "invalid key", Table: t.Name, Err: err}
	}
	return enc, nil
}

func (db *DB) writer(tx substrate.WriteTx) *writer {
	return &writer{tx: tx, validators: db.validators}
}

// Get returns the record stored under key, or nil if there is none.
func (db *DB) Get(ctx context.Context, table string, key any) (json.RawMessage, error) {
	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	pk, err := encodeKey(t, key)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = db.view(ctx, "get", func(tx substrate.ReadTx) error {
		v, err := tx.Get(tableBucket(table), pk)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put upserts rec and returns its primary key. rec may be any value that
// encodes to a JSON object. Auto-increment tables assign a key when the
// record has none.
func (db *DB) Put(ctx context.Context, table string, rec any) (any, error) {
	keys, err := db.BulkPut(ctx, table, []any{rec})
	if err != nil {
		return nil, err
	}
	return keys[0], nil
}

// BulkPut upserts all records in one transaction. Either every record is
// stored or none is.
func (db *DB) BulkPut(ctx context.Context, table string, recs []any) ([]any, error) {
	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, len(recs))
	for i, rec := range recs {
		doc, err := record.Normalize(rec)
		if err != nil {
			return nil, withStore(invalidRecord(table, err), db.name)
		}
		docs[i] = doc
	}
	keys := make([]any, len(docs))
	err = db.update(ctx, "put", func(tx substrate.WriteTx) error {
		w := db.writer(tx)
		for i, doc := range docs {
			key, err := w.put(t, doc)
			if err != nil {
				return err
			}
			keys[i] = key
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete removes the record under key. Deleting an absent key is a no-op.
func (db *DB) Delete(ctx context.Context, table string, key any) error {
	t, err := db.table(table)
	if err != nil {
		return err
	}
	pk, err := encodeKey(t, key)
	if err != nil {
		return err
	}
	return db.update(ctx, "delete", func(tx substrate.WriteTx) error {
		return db.writer(tx).delete(t, pk)
	})
}

// Update applies an RFC 7386 JSON merge patch to the record under key and
// returns the result, or nil if no record exists. The patch may not change
// the primary key.
func (db *DB) Update(ctx context.Context, table string, key any, patch []byte) (json.RawMessage, error) {
	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	pk, err := encodeKey(t, key)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = db.update(ctx, "update", func(tx substrate.WriteTx) error {
		old, err := tx.Get(tableBucket(table), pk)
		if err != nil || old == nil {
			return err
		}
		merged, err := jsonpatch.MergePatch(old, patch)
		if err != nil {
			return invalidRecord(table, fmt.Errorf("merge patch: %w", err))
		}
		doc, err := record.Decode(merged)
		if err != nil {
			return invalidRecord(table, err)
		}
		out, err = db.writer(tx).replace(t, pk, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records in table.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	if _, err := db.table(table); err != nil {
		return 0, err
	}
	n := 0
	err := db.view(ctx, "count", func(tx substrate.ReadTx) error {
		return tx.Scan(tableBucket(table), nil, nil, func(_, _ []byte) (bool, error) {
			n++
			return true, nil
		})
	})
	return n, err
}

// Clear deletes every record of table and its index entries. The
// auto-increment sequence is not reset.
func (db *DB) Clear(ctx context.Context, table string) error {
	t, err := db.table(table)
	if err != nil {
		return err
	}
	buckets := []string{tableBucket(table)}
	for _, ix := range t.Indexes {
		buckets = append(buckets, indexBucket(table, ix.Name))
	}
	return db.update(ctx, "clear", func(tx substrate.WriteTx) error {
		for _, b := range buckets {
			err := tx.Scan(b, nil, nil, func(k, _ []byte) (bool, error) {
				return true, tx.Delete(b, k)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
