package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// KeyResult reports the record a mutation touched.
type KeyResult struct {
	Table  string `json:"table"`
	Key    any    `json:"key"`
	Action string `json:"action"` // "put" | "deleted"
}

// KeysResult reports a bulk put.
type KeysResult struct {
	Table string `json:"table"`
	Keys  []any  `json:"keys"`
}

// CountResult reports a record count.
type CountResult struct {
	Table string `json:"table"`
	Count int    `json:"count"`
}

// storedRecord is a single stored record; text output prints it as one line.
type storedRecord json.RawMessage

func (r storedRecord) MarshalJSON() ([]byte, error) { return json.RawMessage(r).MarshalJSON() }

func (r storedRecord) renderText(w io.Writer, _ *OutputFormatter) error {
	_, err := fmt.Fprintln(w, string(r))
	return err
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <key>",
		Short: "Print the record stored under a key",
		Long: `Print the record stored under a primary key. Keys are parsed as JSON when
possible (numbers, quoted strings, arrays for compound keys) and taken as
bare strings otherwise.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runGet(opts *RootOptions, table, key string, cmd *cobra.Command) error {
	return withTable(opts, cmd, table, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		raw, ok, err := h.Get(ctx, parseValue(key))
		if err != nil {
			return failStore(f, err)
		}
		if !ok {
			return fail(f, ErrCodeNotFound, ExitFailure, fmt.Errorf("no %s record with key %s", table, key))
		}
		return f.Success(storedRecord(raw))
	})
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <table> <json|->",
		Short: "Insert or replace a record",
		Long: `Insert or replace a record given as a JSON object ("-" reads stdin).
With --bulk the argument is a JSON array of records stored in one
transaction. Auto-increment tables assign keys to records without one.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bulk := cmd.Flags().Bool("bulk", false, "argument is a JSON array of records")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runPut(rootOpts, args[0], args[1], *bulk, cmd)
	}
	return cmd
}

func runPut(opts *RootOptions, table, arg string, bulk bool, cmd *cobra.Command) error {
	data, err := readJSON(arg, cmd.InOrStdin())
	if err != nil {
		return fail(newFormatter(opts, cmd), ErrCodeBadInput, ExitCommandError, err)
	}
	return withTable(opts, cmd, table, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		if !bulk {
			key, err := h.Put(ctx, data)
			if err != nil {
				return failStore(f, err)
			}
			return f.Success(KeyResult{Table: table, Key: key, Action: "put"})
		}

		var recs []json.RawMessage
		if err := json.Unmarshal(data, &recs); err != nil {
			return fail(f, ErrCodeBadInput, ExitCommandError, fmt.Errorf("--bulk expects a JSON array: %w", err))
		}
		keys, err := h.BulkPut(ctx, recs)
		if err != nil {
			return failStore(f, err)
		}
		if keys == nil {
			keys = []any{}
		}
		return f.Success(KeysResult{Table: table, Keys: keys})
	})
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <table> <key>",
		Short:         "Delete the record stored under a key",
		Long:          "Delete the record stored under a primary key. Deleting an absent key succeeds.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runDelete(opts *RootOptions, table, key string, cmd *cobra.Command) error {
	return withTable(opts, cmd, table, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		k := parseValue(key)
		if err := h.Delete(ctx, k); err != nil {
			return failStore(f, err)
		}
		return f.Success(KeyResult{Table: table, Key: k, Action: "deleted"})
	})
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <table> <key> <patch|->",
		Short: "Merge a JSON patch into a record",
		Long: `Apply a JSON merge patch (RFC 7386) to the record stored under a key and
print the result. null members remove fields; the primary key cannot change.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(rootOpts, args[0], args[1], args[2], cmd)
		},
	}
}

func runUpdate(opts *RootOptions, table, key, arg string, cmd *cobra.Command) error {
	patch, err := readJSON(arg, cmd.InOrStdin())
	if err != nil {
		return fail(newFormatter(opts, cmd), ErrCodeBadInput, ExitCommandError, err)
	}
	return withTable(opts, cmd, table, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		raw, ok, err := h.Update(ctx, parseValue(key), patch)
		if err != nil {
			return failStore(f, err)
		}
		if !ok {
			return fail(f, ErrCodeNotFound, ExitFailure, fmt.Errorf("no %s record with key %s", table, key))
		}
		return f.Success(storedRecord(raw))
	})
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "count <table>",
		Short:         "Print the number of records in a table",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(rootOpts, args[0], cmd)
		},
	}
}

func runCount(opts *RootOptions, table string, cmd *cobra.Command) error {
	return withTable(opts, cmd, table, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		n, err := h.Count(ctx)
		if err != nil {
			return failStore(f, err)
		}
		return f.Success(CountResult{Table: table, Count: n})
	})
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear <table>",
		Short:         "Delete every record in a table",
		Long:          "Delete every record in a table. The table, its indexes and its key sequence remain.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, args[0], cmd)
		},
	}
}

func runClear(opts *RootOptions, table string, cmd *cobra.Command) error {
	return withTable(opts, cmd, table, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		if err := h.Clear(ctx); err != nil {
			return failStore(f, err)
		}
		return f.Success(CountResult{Table: table, Count: 0})
	})
}

func (r KeyResult) renderText(w io.Writer, f *OutputFormatter) error {
	_, err := fmt.Fprintf(w, "%s %s/%s\n", f.paint(r.Action, color.FgGreen), r.Table, keyText(r.Key))
	return err
}

func (r KeysResult) renderText(w io.Writer, f *OutputFormatter) error {
	for _, k := range r.Keys {
		if _, err := fmt.Fprintf(w, "%s %s/%s\n", f.paint("put", color.FgGreen), r.Table, keyText(k)); err != nil {
			return err
		}
	}
	return nil
}

func (r CountResult) renderText(w io.Writer, _ *OutputFormatter) error {
	_, err := fmt.Fprintln(w, r.Count)
	return err
}
