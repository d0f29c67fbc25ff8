package cli

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TestGoldenOutput pins the text and JSON layouts of the read commands.
// Regenerate with:
//
//	go test ./internal/cli -run TestGoldenOutput -update
func TestGoldenOutput(t *testing.T) {
	store := testStore(t, notesSchema)
	mustExecute(t, store, "put", "notes", `{"tag":"a","text":"hello"}`)
	mustExecute(t, store, "put", "notes", `{"tag":"b","text":"world"}`)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	cases := []struct {
		name string
		args []string
	}{
		{"info_text", []string{"info"}},
		{"info_json", []string{"--format", "json", "info"}},
		{"tables_text", []string{"tables"}},
		{"all_text", []string{"all", "notes"}},
		{"all_json", []string{"--format", "json", "all", "notes"}},
		{"query_text", []string{"query", "notes", "tag", "b"}},
		{"count_json", []string{"--format", "json", "count", "notes"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := mustExecute(t, store, tc.args...)
			g.Assert(t, tc.name, []byte(out))
		})
	}
}
