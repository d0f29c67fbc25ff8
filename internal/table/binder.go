package table

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/roach88/localdb/internal/dberr"
)

// Binder binds typed handles to the tables of one store. Each table name is
// checked against the store's schema once, at registration.
type Binder struct {
	store Store

	mu    sync.Mutex
	bound map[string]bool
}

// NewBinder creates a binder for store.
func NewBinder(store Store) *Binder {
	return &Binder{store: store, bound: map[string]bool{}}
}

// Register binds a typed handle to the named table. Fails with UnknownTable
// if the store's schema has no such table, and with SchemaMismatch if the
// table assigns auto-increment keys and K cannot hold a number.
func Register[K, R any](b *Binder, name string) (*Handle[K, R], error) {
	def := b.store.Definition()
	t, ok := def.Table(name)
	if !ok {
		return nil, &dberr.Error{
			Code:    dberr.CodeUnknownTable,
			Message: fmt.Sprintf("table not in schema version %d", def.Version()),
			Table:   name,
		}
	}
	if t.PrimaryKey.AutoIncrement && !numericKey[K]() {
		var key K
		return nil, &dberr.Error{
			Code:    dberr.CodeSchemaMismatch,
			Message: fmt.Sprintf("key type %T cannot hold auto-increment key %s", key, t.PrimaryKey.Name),
			Table:   name,
		}
	}
	b.mu.Lock()
	b.bound[name] = true
	b.mu.Unlock()
	return &Handle[K, R]{store: b.store, name: name}, nil
}

// MustRegister is like Register but panics on error.
func MustRegister[K, R any](b *Binder, name string) *Handle[K, R] {
	h, err := Register[K, R](b, name)
	if err != nil {
		panic(err)
	}
	return h
}

// Unbound returns the schema's tables that have no handle yet, sorted.
func (b *Binder) Unbound() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, name := range b.store.Definition().TableNames() {
		if !b.bound[name] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// numericKey reports whether K can hold a key assigned by the store's
// sequence: any integer or float kind, or an interface.
func numericKey[K any]() bool {
	switch reflect.TypeFor[K]().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Interface:
		return true
	}
	return false
}
