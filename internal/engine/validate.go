package engine

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/schema"
)

// compileValidators compiles the JSON Schemas attached to def's tables.
func compileValidators(def *schema.Definition) (map[string]*gojsonschema.Schema, error) {
	out := map[string]*gojsonschema.Schema{}
	for _, name := range def.TableNames() {
		src, ok := def.JSONSchema(name)
		if !ok {
			continue
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, &dberr.Error{
				Code:    dberr.CodeSchemaMismatch,
				Message: "JSON Schema does not compile",
				Table:   name,
				Err:     err,
			}
		}
		out[name] = s
	}
	return out, nil
}

// validate checks an encoded record against its table's JSON Schema, if any.
func (w *writer) validate(table string, data []byte) error {
	s, ok := w.validators[table]
	if !ok {
		return nil
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return invalidRecord(table, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return &dberr.Error{
		Code:    dberr.CodeInvalidRecord,
		Message: strings.Join(msgs, "; "),
		Table:   table,
	}
}
