// Package table provides typed views over the tables of an open store.
//
// A Handle[K, R] forwards every call to the store and converts between
// JSON documents and the caller's key and record types. It holds no state
// beyond its binding, so it never serves stale data and fails with
// HandleClosed once the store it was bound to is closed.
package table

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/roach88/localdb/internal/schema"
)

// Store is the part of engine.DB a Handle forwards to.
type Store interface {
	Definition() *schema.Definition
	Get(ctx context.Context, table string, key any) (json.RawMessage, error)
	Put(ctx context.Context, table string, rec any) (any, error)
	BulkPut(ctx context.Context, table string, recs []any) ([]any, error)
	Delete(ctx context.Context, table string, key any) error
	Update(ctx context.Context, table string, key any, patch []byte) (json.RawMessage, error)
	Count(ctx context.Context, table string) (int, error)
	Clear(ctx context.Context, table string) error
	All(ctx context.Context, table string) iter.Seq2[json.RawMessage, error]
	QueryByIndex(ctx context.Context, table, index string, value any) iter.Seq2[json.RawMessage, error]
	Filter(ctx context.Context, table, expression string) iter.Seq2[json.RawMessage, error]
}

// Handle is a typed view of one table. K is the primary key type and R the
// record type; both must round-trip through encoding/json.
type Handle[K, R any] struct {
	store Store
	name  string
}

// Name returns the table name.
func (h *Handle[K, R]) Name() string { return h.name }

// Get returns the record stored under key. ok is false if there is none.
func (h *Handle[K, R]) Get(ctx context.Context, key K) (rec R, ok bool, err error) {
	raw, err := h.store.Get(ctx, h.name, keyArg(key))
	if err != nil || raw == nil {
		return rec, false, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("decode %s record: %w", h.name, err)
	}
	return rec, true, nil
}

// Put upserts rec and returns its primary key, including keys assigned by
// auto-increment tables. Register only binds auto-increment tables to
// numeric or interface key types, so an assigned key always converts.
func (h *Handle[K, R]) Put(ctx context.Context, rec R) (K, error) {
	var key K
	raw, err := h.store.Put(ctx, h.name, rec)
	if err != nil {
		return key, err
	}
	return convertKey[K](raw)
}

// BulkPut upserts recs in one transaction.
func (h *Handle[K, R]) BulkPut(ctx context.Context, recs []R) ([]K, error) {
	args := make([]any, len(recs))
	for i, r := range recs {
		args[i] = r
	}
	raws, err := h.store.BulkPut(ctx, h.name, args)
	if err != nil {
		return nil, err
	}
	keys := make([]K, len(raws))
	for i, raw := range raws {
		if keys[i], err = convertKey[K](raw); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Delete removes the record under key.
func (h *Handle[K, R]) Delete(ctx context.Context, key K) error {
	return h.store.Delete(ctx, h.name, keyArg(key))
}

// Update merges patch into the record under key (RFC 7386). patch may be
// raw JSON or any value that encodes to a JSON object. ok is false if no
// record exists.
func (h *Handle[K, R]) Update(ctx context.Context, key K, patch any) (rec R, ok bool, err error) {
	var data []byte
	switch p := patch.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	default:
		if data, err = json.Marshal(patch); err != nil {
			return rec, false, fmt.Errorf("encode patch: %w", err)
		}
	}
	raw, err := h.store.Update(ctx, h.name, keyArg(key), data)
	if err != nil || raw == nil {
		return rec, false, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("decode %s record: %w", h.name, err)
	}
	return rec, true, nil
}

// Count returns the number of records.
func (h *Handle[K, R]) Count(ctx context.Context) (int, error) {
	return h.store.Count(ctx, h.name)
}

// Clear deletes every record.
func (h *Handle[K, R]) Clear(ctx context.Context) error {
	return h.store.Clear(ctx, h.name)
}

// All yields every record in primary-key order.
func (h *Handle[K, R]) All(ctx context.Context) iter.Seq2[R, error] {
	return decodeSeq[R](h.name, h.store.All(ctx, h.name))
}

// QueryByIndex yields records whose index value equals value, in
// primary-key order.
func (h *Handle[K, R]) QueryByIndex(ctx context.Context, index string, value any) iter.Seq2[R, error] {
	return decodeSeq[R](h.name, h.store.QueryByIndex(ctx, h.name, index, value))
}

// Filter yields records matching an expr-lang expression.
func (h *Handle[K, R]) Filter(ctx context.Context, expression string) iter.Seq2[R, error] {
	return decodeSeq[R](h.name, h.store.Filter(ctx, h.name, expression))
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[R any](seq iter.Seq2[R, error]) ([]R, error) {
	var out []R
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeSeq[R any](table string, seq iter.Seq2[json.RawMessage, error]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		for raw, err := range seq {
			var rec R
			if err != nil {
				yield(rec, err)
				return
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				yield(rec, fmt.Errorf("decode %s record: %w", table, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// keyArg passes scalar keys through and flattens anything else (arrays,
// structs) to its JSON form so the store can encode it.
func keyArg(key any) any {
	switch key.(type) {
	case string, json.Number, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, []any, []string:
		return key
	}
	data, err := json.Marshal(key)
	if err != nil {
		return key
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return key
	}
	return v
}

// convertKey converts a key returned by the store to K.
func convertKey[K any](raw any) (K, error) {
	var key K
	if k, ok := raw.(K); ok {
		return k, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return key, fmt.Errorf("encode key: %w", err)
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return key, fmt.Errorf("key %s does not fit %T: %w", data, key, err)
	}
	return key, nil
}
