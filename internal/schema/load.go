package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Document is the file form of a store schema, shared by the YAML and CUE
// loaders.
//
//	name: app-db
//	versions:
//	  - version: 1
//	    tables:
//	      projects: "id, name"
//	      syncQueue: "++id"
//	    jsonSchemas:
//	      projects: '{"type": "object", "required": ["name"]}'
type Document struct {
	Name     string            `yaml:"name" json:"name"`
	Versions []VersionDocument `yaml:"versions" json:"versions"`
}

// VersionDocument declares one schema version.
type VersionDocument struct {
	Version     int               `yaml:"version" json:"version"`
	Tables      map[string]string `yaml:"tables" json:"tables"`
	JSONSchemas map[string]string `yaml:"jsonSchemas,omitempty" json:"jsonSchemas,omitempty"`
}

// Registry declares every version of the document into a new Registry.
func (d *Document) Registry() (*Registry, error) {
	r := NewRegistry()
	if err := d.DeclareInto(r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeclareInto declares every version of the document into r.
func (d *Document) DeclareInto(r *Registry) error {
	for _, v := range d.Versions {
		var opts []Option
		for table, js := range v.JSONSchemas {
			opts = append(opts, WithJSONSchema(table, js))
		}
		if _, err := r.Declare(v.Version, v.Tables, opts...); err != nil {
			return err
		}
	}
	return nil
}

// ParseYAML parses a YAML schema document.
func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema yaml: %w", err)
	}
	if len(doc.Versions) == 0 {
		return nil, fmt.Errorf("parse schema yaml: no versions declared")
	}
	return &doc, nil
}

// cueSchema constrains CUE schema documents before they are decoded.
const cueSchema = `
#Version: {
	version: int & >=1
	tables: {[string]: string}
	jsonSchemas?: {[string]: string}
}
name?: string
versions: [...#Version] & [_, ...]
`

// ParseCUE parses and validates a CUE schema document.
func ParseCUE(data []byte, filename string) (*Document, error) {
	ctx := cuecontext.New()
	constraint := ctx.CompileString(cueSchema)
	if err := constraint.Err(); err != nil {
		return nil, fmt.Errorf("compile schema constraint: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("parse schema cue: %w", err)
	}
	v = constraint.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate schema cue: %w", err)
	}

	var doc Document
	if err := v.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema cue: %w", err)
	}
	return &doc, nil
}

// LoadFile reads a schema document, choosing the parser by extension
// (.cue, or .yaml/.yml).
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(data, path)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q", filepath.Ext(path))
	}
}
