package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSchema = `
name: app-db
versions:
  - version: 1
    tables:
      projects: "id, name"
      syncQueue: "++id"
  - version: 2
    tables:
      projects: "id, name, ownerId"
      syncQueue: "++id"
      settings: "key"
    jsonSchemas:
      settings: '{"type": "object", "required": ["key", "value"]}'
`

const cueSchemaDoc = `
name: "app-db"
versions: [{
	version: 1
	tables: {
		projects:  "id, name"
		syncQueue: "++id"
	}
}, {
	version: 2
	tables: {
		projects:  "id, name, ownerId"
		syncQueue: "++id"
		settings:  "key"
	}
	jsonSchemas: settings: #"{"type": "object"}"#
}]
`

func TestParseYAML(t *testing.T) {
	doc, err := ParseYAML([]byte(yamlSchema))
	require.NoError(t, err)
	assert.Equal(t, "app-db", doc.Name)
	require.Len(t, doc.Versions, 2)

	r, err := doc.Registry()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, r.Versions())

	v2, ok := r.Definition(2)
	require.True(t, ok)
	js, ok := v2.JSONSchema("settings")
	require.True(t, ok)
	assert.Contains(t, js, `"required"`)
}

func TestParseYAML_Errors(t *testing.T) {
	_, err := ParseYAML([]byte("versions: ["))
	assert.Error(t, err)

	_, err = ParseYAML([]byte("name: x\n"))
	assert.Error(t, err)
}

func TestParseCUE(t *testing.T) {
	doc, err := ParseCUE([]byte(cueSchemaDoc), "schema.cue")
	require.NoError(t, err)
	assert.Equal(t, "app-db", doc.Name)
	require.Len(t, doc.Versions, 2)
	assert.Equal(t, "++id", doc.Versions[0].Tables["syncQueue"])

	r, err := doc.Registry()
	require.NoError(t, err)
	assert.Equal(t, 2, r.Latest().Version())
}

func TestParseCUE_RejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"syntax":          `versions: [`,
		"no versions":     `versions: []`,
		"version zero":    `versions: [{version: 0, tables: {a: "id"}}]`,
		"non-string spec": `versions: [{version: 1, tables: {a: 1}}]`,
		"unknown field":   `versions: [{version: 1, tables: {a: "id"}, extra: true}]`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCUE([]byte(src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "schema.yaml")
	cuePath := filepath.Join(dir, "schema.cue")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlSchema), 0o644))
	require.NoError(t, os.WriteFile(cuePath, []byte(cueSchemaDoc), 0o644))

	fromYAML, err := LoadFile(yamlPath)
	require.NoError(t, err)
	fromCUE, err := LoadFile(cuePath)
	require.NoError(t, err)
	assert.Equal(t, fromYAML.Versions[0].Tables, fromCUE.Versions[0].Tables)

	_, err = LoadFile(filepath.Join(dir, "schema.toml"))
	assert.Error(t, err)
	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
