package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/record"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
)

// writer applies record mutations and keeps indexes in step with them.
type writer struct {
	tx         substrate.WriteTx
	validators map[string]*gojsonschema.Schema
}

// put upserts doc, assigning an auto-increment key if needed. Returns the
// primary key in the form callers see it (see record.KeyValue).
func (w *writer) put(t *schema.Table, doc map[string]any) (any, error) {
	key, err := w.primaryKey(t, doc)
	if err != nil {
		return nil, err
	}
	pk, err := record.EncodeKey(key)
	if err != nil {
		return nil, invalidRecord(t.Name, err)
	}
	if _, err := w.replace(t, pk, doc); err != nil {
		return nil, err
	}
	return publicKey(key), nil
}

// replace stores doc under pk, swapping index entries of any previous
// record. doc's primary key must encode to pk.
func (w *writer) replace(t *schema.Table, pk []byte, doc map[string]any) ([]byte, error) {
	if key, ok := keyOf(t, doc); !ok {
		return nil, invalidRecord(t.Name, fmt.Errorf("primary key %q missing", t.PrimaryKey.Name))
	} else if enc, err := record.EncodeKey(key); err != nil || !bytes.Equal(enc, pk) {
		return nil, invalidRecord(t.Name, fmt.Errorf("primary key %q cannot change", t.PrimaryKey.Name))
	}

	data, err := record.MarshalCanonical(doc)
	if err != nil {
		return nil, invalidRecord(t.Name, err)
	}
	if err := w.validate(t.Name, data); err != nil {
		return nil, err
	}

	old, err := w.tx.Get(tableBucket(t.Name), pk)
	if err != nil {
		return nil, err
	}
	if old != nil {
		oldDoc, err := record.Decode(old)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		if err := w.removeEntries(t, oldDoc, pk); err != nil {
			return nil, err
		}
	}
	if err := w.addEntries(t, t.Indexes, doc, pk); err != nil {
		return nil, err
	}
	if err := w.tx.Put(tableBucket(t.Name), pk, data); err != nil {
		return nil, err
	}
	return data, nil
}

// delete removes the record under pk. Absent records are not an error.
func (w *writer) delete(t *schema.Table, pk []byte) error {
	old, err := w.tx.Get(tableBucket(t.Name), pk)
	if err != nil || old == nil {
		return err
	}
	oldDoc, err := record.Decode(old)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	if err := w.removeEntries(t, oldDoc, pk); err != nil {
		return err
	}
	return w.tx.Delete(tableBucket(t.Name), pk)
}

// primaryKey extracts doc's key, assigning the next sequence value to an
// auto-increment table when the key is missing or null. An explicit numeric
// key on an auto-increment table advances the sequence past it; an explicit
// key that is not valid is rejected rather than replaced.
func (w *writer) primaryKey(t *schema.Table, doc map[string]any) (any, error) {
	pk := t.PrimaryKey
	key, ok := keyOf(t, doc)
	switch {
	case !ok && pk.AutoIncrement && absent(doc, pk.Paths[0]):
		seq, err := w.tx.NextSequence(tableBucket(t.Name))
		if err != nil {
			return nil, err
		}
		key = json.Number(strconv.FormatUint(seq, 10))
		if err := record.Set(doc, pk.Paths[0], key); err != nil {
			return nil, invalidRecord(t.Name, err)
		}
		return key, nil
	case !ok:
		return nil, invalidRecord(t.Name, fmt.Errorf("primary key %q missing or not a valid key", pk.Name))
	}
	if pk.AutoIncrement {
		if f, ok := record.Number(key); ok && f >= 1 {
			if err := w.tx.BumpSequence(tableBucket(t.Name), uint64(math.Min(math.Floor(f), math.MaxInt64))); err != nil {
				return nil, err
			}
		}
	}
	return key, nil
}

func absent(doc map[string]any, path string) bool {
	v, ok := record.Lookup(doc, path)
	return !ok || v == nil
}

// keyOf reads the primary key from doc. Compound keys come back as []any.
func keyOf(t *schema.Table, doc map[string]any) (any, bool) {
	pk := t.PrimaryKey
	if !pk.Compound() {
		v, ok := record.Lookup(doc, pk.Paths[0])
		if !ok || !record.ValidKey(v) {
			return nil, false
		}
		return v, true
	}
	parts := make([]any, len(pk.Paths))
	for i, p := range pk.Paths {
		v, ok := record.Lookup(doc, p)
		if !ok || !record.ValidKey(v) {
			return nil, false
		}
		parts[i] = v
	}
	return parts, true
}

// publicKey converts a stored key to the value returned to callers.
func publicKey(key any) any {
	if parts, ok := key.([]any); ok {
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = publicKey(p)
		}
		return out
	}
	return record.KeyValue(key)
}

// indexValues returns the encoded values doc contributes to ix. Records
// whose indexed path is missing or not a valid key are left out of the
// index. Multi-entry indexes contribute each distinct valid element.
func indexValues(ix schema.Index, doc map[string]any) [][]byte {
	if ix.Compound() {
		parts := make([]any, len(ix.Paths))
		for i, p := range ix.Paths {
			v, ok := record.Lookup(doc, p)
			if !ok {
				return nil
			}
			parts[i] = v
		}
		enc, err := record.EncodeKey(parts)
		if err != nil {
			return nil
		}
		return [][]byte{enc}
	}

	v, ok := record.Lookup(doc, ix.Paths[0])
	if !ok {
		return nil
	}
	if arr, isArr := v.([]any); isArr && ix.MultiEntry {
		var out [][]byte
		for _, elem := range arr {
			enc, err := record.EncodeKey(elem)
			if err != nil {
				continue
			}
			if !slices.ContainsFunc(out, func(b []byte) bool { return bytes.Equal(b, enc) }) {
				out = append(out, enc)
			}
		}
		return out
	}
	enc, err := record.EncodeKey(v)
	if err != nil {
		return nil
	}
	return [][]byte{enc}
}

func (w *writer) addEntries(t *schema.Table, ixs []schema.Index, doc map[string]any, pk []byte) error {
	for _, ix := range ixs {
		bucket := indexBucket(t.Name, ix.Name)
		for _, val := range indexValues(ix, doc) {
			if ix.Unique {
				if err := w.checkUnique(t, ix, val, pk); err != nil {
					return err
				}
			}
			if err := w.tx.Put(bucket, slices.Concat(val, pk), pk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) removeEntries(t *schema.Table, doc map[string]any, pk []byte) error {
	for _, ix := range t.Indexes {
		bucket := indexBucket(t.Name, ix.Name)
		for _, val := range indexValues(ix, doc) {
			if err := w.tx.Delete(bucket, slices.Concat(val, pk)); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkUnique fails with Constraint if another record already holds val.
func (w *writer) checkUnique(t *schema.Table, ix schema.Index, val, pk []byte) error {
	var taken bool
	err := w.tx.Scan(indexBucket(t.Name, ix.Name), nil, val, func(_, owner []byte) (bool, error) {
		if !bytes.Equal(owner, pk) {
			taken = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if taken {
		return &dberr.Error{
			Code:    dberr.CodeConstraint,
			Message: fmt.Sprintf("unique index %q already holds this value", ix.Name),
			Table:   t.Name,
		}
	}
	return nil
}

func invalidRecord(table string, err error) error {
	return &dberr.Error{Code: dberr.CodeInvalidRecord, Message: "invalid record", Table: table, Err: err}
}
