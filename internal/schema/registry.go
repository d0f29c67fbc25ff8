package schema

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/localdb/internal/dberr"
)

// Migrator is the view of the migration transaction handed to upgrade hooks.
// Every call runs inside the single transaction that applies the schema
// delta, so a failing hook rolls back the whole upgrade.
type Migrator interface {
	// Modify rewrites every record of table in primary-key order. The
	// callback edits doc in place; indexes are rebuilt from the result.
	// The primary key must not change.
	Modify(table string, fn func(doc map[string]any) error) error

	// Put upserts a record into table.
	Put(table string, record any) error
}

// UpgradeFunc runs after a version's tables and indexes exist.
type UpgradeFunc func(ctx context.Context, m Migrator) error

// Definition is an immutable schema for one version.
type Definition struct {
	version     int
	tables      map[string]*Table
	jsonSchemas map[string]string
	upgrade     UpgradeFunc
}

// Version returns the schema version.
func (d *Definition) Version() int { return d.version }

// Table returns the named table.
func (d *Definition) Table(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// TableNames returns table names in sorted order.
func (d *Definition) TableNames() []string {
	return slices.Sorted(maps.Keys(d.tables))
}

// Mapping returns a copy of the normalized table name → spec mapping.
func (d *Definition) Mapping() map[string]string {
	m := make(map[string]string, len(d.tables))
	for name, t := range d.tables {
		m[name] = t.Spec()
	}
	return m
}

// JSONSchema returns the JSON Schema attached to a table, if any.
func (d *Definition) JSONSchema(table string) (string, bool) {
	s, ok := d.jsonSchemas[table]
	return s, ok
}

// Upgrade returns the version's upgrade hook, or nil.
func (d *Definition) Upgrade() UpgradeFunc { return d.upgrade }

// Option configures a declaration.
type Option func(*Definition)

// WithUpgrade attaches a hook that runs when a store migrates to this version.
func WithUpgrade(fn UpgradeFunc) Option {
	return func(d *Definition) { d.upgrade = fn }
}

// WithJSONSchema attaches a JSON Schema that every record of table must satisfy.
func WithJSONSchema(table, jsonSchema string) Option {
	return func(d *Definition) {
		if d.jsonSchemas == nil {
			d.jsonSchemas = map[string]string{}
		}
		d.jsonSchemas[table] = jsonSchema
	}
}

// NewDefinition parses tables into a Definition without registering it.
func NewDefinition(version int, tables map[string]string, opts ...Option) (*Definition, error) {
	if version < 1 {
		return nil, dberr.New(dberr.CodeSchemaMismatch, "version must be >= 1, got %d", version)
	}
	if len(tables) == 0 {
		return nil, dberr.New(dberr.CodeSchemaMismatch, "version %d declares no tables", version)
	}
	d := &Definition{version: version, tables: make(map[string]*Table, len(tables))}
	for _, name := range slices.Sorted(maps.Keys(tables)) {
		t, err := ParseTable(name, tables[name])
		if err != nil {
			return nil, fmt.Errorf("version %d: %w", version, err)
		}
		d.tables[name] = t
	}
	for _, opt := range opts {
		opt(d)
	}
	for table := range d.jsonSchemas {
		if _, ok := d.tables[table]; !ok {
			return nil, dberr.New(dberr.CodeSchemaMismatch, "version %d: JSON Schema for undeclared table %q", version, table)
		}
	}
	return d, nil
}

// Registry holds the declared versions of one store's schema.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[int]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{versions: map[int]*Definition{}}
}

// Declare registers a version. Declaring a version again with the same
// mapping returns the existing definition; a different mapping, or one that
// breaks append-only evolution relative to neighbouring versions, fails with
// SchemaMismatch.
func (r *Registry) Declare(version int, tables map[string]string, opts ...Option) (*Definition, error) {
	d, err := NewDefinition(version, tables, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.versions[version]; ok {
		if !maps.Equal(existing.Mapping(), d.Mapping()) {
			return nil, dberr.New(dberr.CodeSchemaMismatch, "version %d already declared with a different schema", version)
		}
		return existing, nil
	}

	if prev := r.nearest(version, -1); prev != nil {
		if err := checkExtends(prev, d); err != nil {
			return nil, err
		}
	}
	if next := r.nearest(version, +1); next != nil {
		if err := checkExtends(d, next); err != nil {
			return nil, err
		}
	}

	r.versions[version] = d
	return d, nil
}

// MustDeclare is like Declare but panics on error. For static schemas.
func (r *Registry) MustDeclare(version int, tables map[string]string, opts ...Option) *Definition {
	d, err := r.Declare(version, tables, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Definition returns the definition for version.
func (r *Registry) Definition(version int) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.versions[version]
	return d, ok
}

// Versions returns declared versions in ascending order.
func (r *Registry) Versions() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.versions))
}

// Latest returns the highest declared definition, or nil.
func (r *Registry) Latest() *Definition {
	vs := r.Versions()
	if len(vs) == 0 {
		return nil
	}
	d, _ := r.Definition(vs[len(vs)-1])
	return d
}

// Between returns the definitions with from < version <= to, ascending.
func (r *Registry) Between(from, to int) []*Definition {
	var out []*Definition
	for _, v := range r.Versions() {
		if v > from && v <= to {
			d, _ := r.Definition(v)
			out = append(out, d)
		}
	}
	return out
}

// nearest returns the closest declared version below (dir<0) or above
// (dir>0) version. Caller holds r.mu.
func (r *Registry) nearest(version, dir int) *Definition {
	var best *Definition
	for v, d := range r.versions {
		switch {
		case dir < 0 && v < version && (best == nil || v > best.version):
			best = d
		case dir > 0 && v > version && (best == nil || v < best.version):
			best = d
		}
	}
	return best
}

// Delta is the set of additions between two schema versions.
type Delta struct {
	From, To int

	// NewTables lists tables absent from the older version.
	NewTables []*Table

	// NewIndexes maps existing table names to indexes added to them.
	NewIndexes map[string][]Index
}

// Empty reports whether the delta adds nothing.
func (d Delta) Empty() bool {
	return len(d.NewTables) == 0 && len(d.NewIndexes) == 0
}

// Diff computes the additions from older to newer. older may be nil for a
// fresh store. Fails with SchemaMismatch if newer drops or redefines
// anything older declares.
func Diff(older, newer *Definition) (Delta, error) {
	delta := Delta{To: newer.version, NewIndexes: map[string][]Index{}}
	if older == nil {
		for _, name := range newer.TableNames() {
			delta.NewTables = append(delta.NewTables, newer.tables[name])
		}
		return delta, nil
	}
	delta.From = older.version
	if err := checkExtends(older, newer); err != nil {
		return Delta{}, err
	}
	for _, name := range newer.TableNames() {
		nt := newer.tables[name]
		ot, ok := older.tables[name]
		if !ok {
			delta.NewTables = append(delta.NewTables, nt)
			continue
		}
		for _, ix := range nt.Indexes {
			if _, ok := ot.Index(ix.Name); !ok {
				delta.NewIndexes[name] = append(delta.NewIndexes[name], ix)
			}
		}
	}
	return delta, nil
}

// checkExtends verifies newer keeps every table, primary key and index of older.
func checkExtends(older, newer *Definition) error {
	for _, name := range older.TableNames() {
		ot := older.tables[name]
		nt, ok := newer.tables[name]
		if !ok {
			return &dberr.Error{
				Code:    dberr.CodeSchemaMismatch,
				Message: fmt.Sprintf("version %d drops table declared in version %d", newer.version, older.version),
				Table:   name,
			}
		}
		if nt.PrimaryKey.String() != ot.PrimaryKey.String() {
			return &dberr.Error{
				Code:    dberr.CodeSchemaMismatch,
				Message: fmt.Sprintf("version %d changes primary key %q to %q", newer.version, ot.PrimaryKey, nt.PrimaryKey),
				Table:   name,
			}
		}
		for _, oix := range ot.Indexes {
			nix, ok := nt.Index(oix.Name)
			if !ok {
				return &dberr.Error{
					Code:    dberr.CodeSchemaMismatch,
					Message: fmt.Sprintf("version %d drops index %q", newer.version, oix.Name),
					Table:   name,
				}
			}
			if nix.String() != oix.String() {
				return &dberr.Error{
					Code:    dberr.CodeSchemaMismatch,
					Message: fmt.Sprintf("version %d redefines index %q as %q", newer.version, oix, nix),
					Table:   name,
				}
			}
		}
	}
	return nil
}
