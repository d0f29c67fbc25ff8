package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/localdb/internal/dberr"
)

// Index describes a primary key or secondary index of a table.
type Index struct {
	// Name is the index name: the key path, or "[a+b]" for compound indexes.
	Name string

	// Paths are the key paths the index reads. Compound indexes have more than one.
	Paths []string

	// AutoIncrement is set only on primary keys declared with "++".
	AutoIncrement bool

	// Unique rejects two records with the same index value.
	Unique bool

	// MultiEntry indexes each element of an array value separately.
	MultiEntry bool
}

// Compound reports whether the index spans more than one key path.
func (ix Index) Compound() bool { return len(ix.Paths) > 1 }

// String renders the index back into spec syntax.
func (ix Index) String() string {
	var b strings.Builder
	switch {
	case ix.AutoIncrement:
		b.WriteString("++")
	case ix.Unique:
		b.WriteString("&")
	case ix.MultiEntry:
		b.WriteString("*")
	}
	b.WriteString(ix.Name)
	return b.String()
}

// Table is a parsed table declaration.
type Table struct {
	Name       string
	PrimaryKey Index
	Indexes    []Index
}

// Spec returns the normalized spec string (no whitespace, original order).
func (t *Table) Spec() string {
	parts := make([]string, 0, len(t.Indexes)+1)
	parts = append(parts, t.PrimaryKey.String())
	for _, ix := range t.Indexes {
		parts = append(parts, ix.String())
	}
	return strings.Join(parts, ",")
}

// Index returns the secondary index with the given name.
func (t *Table) Index(name string) (Index, bool) {
	for _, ix := range t.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

// ParseTable parses an index specification string for the named table.
func ParseTable(name, spec string) (*Table, error) {
	if strings.TrimSpace(name) == "" {
		return nil, dberr.New(dberr.CodeSchemaMismatch, "table name is required")
	}
	entries := strings.Split(spec, ",")
	pk, err := parseEntry(entries[0], true)
	if err != nil {
		return nil, &dberr.Error{Code: dberr.CodeSchemaMismatch, Message: fmt.Sprintf("primary key: %v", err), Table: name}
	}

	t := &Table{Name: name, PrimaryKey: pk}
	seen := map[string]bool{pk.Name: true}
	for _, entry := range entries[1:] {
		ix, err := parseEntry(entry, false)
		if err != nil {
			return nil, &dberr.Error{Code: dberr.CodeSchemaMismatch, Message: err.Error(), Table: name}
		}
		if seen[ix.Name] {
			return nil, &dberr.Error{Code: dberr.CodeSchemaMismatch, Message: fmt.Sprintf("duplicate index %q", ix.Name), Table: name}
		}
		seen[ix.Name] = true
		t.Indexes = append(t.Indexes, ix)
	}
	return t, nil
}

func parseEntry(raw string, primary bool) (Index, error) {
	entry := strings.Join(strings.Fields(raw), "")
	var ix Index
	switch {
	case strings.HasPrefix(entry, "++"):
		if !primary {
			return ix, fmt.Errorf("%q: auto-increment is only valid on the primary key", entry)
		}
		ix.AutoIncrement = true
		entry = entry[2:]
	case strings.HasPrefix(entry, "&"):
		ix.Unique = true
		entry = entry[1:]
	case strings.HasPrefix(entry, "*"):
		if primary {
			return ix, fmt.Errorf("%q: multi-entry is not valid on the primary key", entry)
		}
		ix.MultiEntry = true
		entry = entry[1:]
	}
	if entry == "" {
		return ix, fmt.Errorf("empty key path")
	}

	if strings.HasPrefix(entry, "[") {
		if !strings.HasSuffix(entry, "]") {
			return ix, fmt.Errorf("%q: unterminated compound index", entry)
		}
		if ix.AutoIncrement || ix.MultiEntry {
			return ix, fmt.Errorf("%q: compound index cannot be auto-increment or multi-entry", entry)
		}
		ix.Paths = strings.Split(entry[1:len(entry)-1], "+")
		if len(ix.Paths) < 2 {
			return ix, fmt.Errorf("%q: compound index needs at least two key paths", entry)
		}
	} else {
		ix.Paths = []string{entry}
	}
	for _, p := range ix.Paths {
		if err := validatePath(p); err != nil {
			return ix, err
		}
	}
	ix.Name = entry
	if primary {
		// Primary keys are unique by construction.
		ix.Unique = false
	}
	return ix, nil
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty key path")
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return fmt.Errorf("key path %q has an empty segment", p)
		}
		if strings.ContainsAny(seg, "[]+&*") {
			return fmt.Errorf("key path %q contains a reserved character", p)
		}
	}
	return nil
}
