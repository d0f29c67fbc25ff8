package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/record"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
)

// migrate brings the store to db.def inside one write transaction.
//
// The stored mapping is authoritative for what exists on disk: it is parsed
// back into a Definition and diffed against each newer declared version in
// turn, so a store created by a registry that no longer declares its
// version can still be upgraded as long as the newer versions extend it.
func (db *DB) migrate(ctx context.Context, reg *schema.Registry) error {
	target := db.def
	err := db.kv.Update(ctx, func(tx substrate.WriteTx) error {
		if err := tx.CreateBucket(metaBucket); err != nil {
			return err
		}
		stored, err := readStoredSchema(tx)
		if err != nil {
			return err
		}

		from := 0
		if stored != nil {
			from = stored.Version()
			if from > target.Version() {
				return &dberr.Error{
					Code:    dberr.CodeVersionSkew,
					Message: fmt.Sprintf("store is at version %d, requested %d", from, target.Version()),
				}
			}
			if declared, ok := reg.Definition(from); ok && !maps.Equal(declared.Mapping(), stored.Mapping()) {
				return &dberr.Error{
					Code:    dberr.CodeSchemaMismatch,
					Message: fmt.Sprintf("stored schema for version %d differs from the declared one", from),
				}
			}
		}
		if from == target.Version() {
			return nil
		}

		current := stored
		for _, next := range reg.Between(from, target.Version()) {
			delta, err := schema.Diff(current, next)
			if err != nil {
				return err
			}
			if err := applyDelta(tx, next, delta); err != nil {
				return err
			}
			if hook := next.Upgrade(); hook != nil {
				m := &migrator{w: &writer{tx: tx}, def: next}
				if err := hook(ctx, m); err != nil {
					return fmt.Errorf("upgrade to version %d: %w", next.Version(), err)
				}
			}
			db.log.Info("schema migrated",
				slog.Int("from", delta.From),
				slog.Int("to", delta.To),
				slog.Int("new_tables", len(delta.NewTables)),
				slog.Int("new_indexes", countIndexes(delta)))
			current = next
		}
		return writeStoredSchema(tx, target)
	})
	return dberr.Substrate(err, "migrate")
}

// readStoredSchema returns the persisted definition, or nil for a new store.
func readStoredSchema(tx substrate.ReadTx) (*schema.Definition, error) {
	rawVer, err := tx.Get(metaBucket, []byte(metaVer))
	if err != nil {
		return nil, err
	}
	if rawVer == nil {
		return nil, nil
	}
	version, err := strconv.Atoi(string(rawVer))
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeSchemaMismatch, err, "stored version %q is not a number", rawVer)
	}
	rawSchema, err := tx.Get(metaBucket, []byte(metaSchema))
	if err != nil {
		return nil, err
	}
	var mapping map[string]string
	if err := json.Unmarshal(rawSchema, &mapping); err != nil {
		return nil, dberr.Wrap(dberr.CodeSchemaMismatch, err, "stored schema for version %d is unreadable", version)
	}
	def, err := schema.NewDefinition(version, mapping)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeSchemaMismatch, err, "stored schema for version %d is invalid", version)
	}
	return def, nil
}

func writeStoredSchema(tx substrate.WriteTx, def *schema.Definition) error {
	mapping := make(map[string]any, len(def.TableNames()))
	for name, spec := range def.Mapping() {
		mapping[name] = spec
	}
	data, err := record.MarshalCanonical(mapping)
	if err != nil {
		return err
	}
	if err := tx.Put(metaBucket, []byte(metaVer), []byte(strconv.Itoa(def.Version()))); err != nil {
		return err
	}
	return tx.Put(metaBucket, []byte(metaSchema), data)
}

// applyDelta creates new tables and builds new indexes from existing records.
func applyDelta(tx substrate.WriteTx, def *schema.Definition, delta schema.Delta) error {
	for _, t := range delta.NewTables {
		if err := tx.CreateBucket(tableBucket(t.Name)); err != nil {
			return err
		}
		for _, ix := range t.Indexes {
			if err := tx.CreateBucket(indexBucket(t.Name, ix.Name)); err != nil {
				return err
			}
		}
	}
	w := &writer{tx: tx}
	for _, name := range def.TableNames() {
		ixs := delta.NewIndexes[name]
		if len(ixs) == 0 {
			continue
		}
		t, _ := def.Table(name)
		for _, ix := range ixs {
			if err := tx.CreateBucket(indexBucket(name, ix.Name)); err != nil {
				return err
			}
		}
		err := tx.Scan(tableBucket(name), nil, nil, func(k, v []byte) (bool, error) {
			doc, err := record.Decode(v)
			if err != nil {
				return false, fmt.Errorf("table %s: %w", name, err)
			}
			return true, w.addEntries(t, ixs, doc, k)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func countIndexes(d schema.Delta) int {
	n := 0
	for _, ixs := range d.NewIndexes {
		n += len(ixs)
	}
	return n
}

// migrator is the schema.Migrator handed to upgrade hooks.
type migrator struct {
	w   *writer
	def *schema.Definition
}

func (m *migrator) table(name string) (*schema.Table, error) {
	t, ok := m.def.Table(name)
	if !ok {
		return nil, &dberr.Error{
			Code:    dberr.CodeUnknownTable,
			Message: fmt.Sprintf("table not in schema version %d", m.def.Version()),
			Table:   name,
		}
	}
	return t, nil
}

func (m *migrator) Modify(table string, fn func(doc map[string]any) error) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	return m.w.tx.Scan(tableBucket(table), nil, nil, func(k, v []byte) (bool, error) {
		doc, err := record.Decode(v)
		if err != nil {
			return false, err
		}
		if err := fn(doc); err != nil {
			return false, err
		}
		_, err = m.w.replace(t, k, doc)
		return err == nil, err
	})
}

func (m *migrator) Put(table string, rec any) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	doc, err := record.Normalize(rec)
	if err != nil {
		return invalidRecord(table, err)
	}
	_, err = m.w.put(t, doc)
	return err
}
