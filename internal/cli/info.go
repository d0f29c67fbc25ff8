package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/localdb/internal/engine"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/table"
)

// InfoResult describes an open store.
type InfoResult struct {
	Store   string      `json:"store"`
	Version int         `json:"version"`
	Backend string      `json:"backend"`
	Tables  []TableInfo `json:"tables"`
}

// TableInfo describes one table. Records is omitted when the store was not
// opened.
type TableInfo struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Records *int   `json:"records,omitempty"`
}

// TablesResult lists the tables a schema version declares.
type TablesResult struct {
	Version int         `json:"version"`
	Tables  []TableInfo `json:"tables"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Open the store and describe it",
		Long: `Open the store, migrating it to the configured schema version if it is
older, and print its version, backend and per-table record counts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, cmd)
		},
	}
}

func runInfo(opts *RootOptions, cmd *cobra.Command) error {
	return withDB(opts, cmd, func(ctx context.Context, db *engine.DB, f *OutputFormatter) error {
		res := InfoResult{
			Store:   db.Name(),
			Version: db.Version(),
			Backend: db.Backend().Name(),
			Tables:  []TableInfo{},
		}
		b := table.NewBinder(db)
		for _, name := range db.Tables() {
			h, err := table.Register[any, json.RawMessage](b, name)
			if err != nil {
				return failStore(f, err)
			}
			n, err := h.Count(ctx)
			if err != nil {
				return failStore(f, err)
			}
			res.Tables = append(res.Tables, tableInfo(db.Definition(), name, &n))
		}
		return f.Success(res)
	})
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the schema version",
		Long: `List the tables and index specifications declared by the configured
schema version. The store itself is not opened.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(rootOpts, cmd)
		},
	}
}

func runTables(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.close()

	def, ok := s.reg.Definition(s.cfg.Store.Version)
	if !ok {
		return fail(f, ErrCodeSchema, ExitCommandError, fmt.Errorf("schema version %d is not declared", s.cfg.Store.Version))
	}
	res := TablesResult{Version: def.Version(), Tables: []TableInfo{}}
	for _, name := range def.TableNames() {
		res.Tables = append(res.Tables, tableInfo(def, name, nil))
	}
	return f.Success(res)
}

func tableInfo(def *schema.Definition, name string, records *int) TableInfo {
	info := TableInfo{Name: name, Records: records}
	if t, ok := def.Table(name); ok {
		info.Spec = t.Spec()
	}
	return info
}

func (r InfoResult) renderText(w io.Writer, f *OutputFormatter) error {
	fmt.Fprintf(w, "store:   %s\n", f.paint(r.Store, color.Bold))
	fmt.Fprintf(w, "version: %d\n", r.Version)
	fmt.Fprintf(w, "backend: %s\n", r.Backend)
	fmt.Fprintln(w, "tables:")
	width := nameWidth(r.Tables)
	for _, t := range r.Tables {
		n := 0
		if t.Records != nil {
			n = *t.Records
		}
		fmt.Fprintf(w, "  %-*s %6d  %s\n", width, t.Name, n, f.paint(t.Spec, color.Faint))
	}
	return nil
}

func (r TablesResult) renderText(w io.Writer, f *OutputFormatter) error {
	width := nameWidth(r.Tables)
	for _, t := range r.Tables {
		fmt.Fprintf(w, "%-*s  %s\n", width, t.Name, t.Spec)
	}
	return nil
}

func nameWidth(tables []TableInfo) int {
	w := 0
	for _, t := range tables {
		w = max(w, len(t.Name))
	}
	return w
}
