package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/spf13/cobra"
)

// RecordList is a list of stored records; text output prints one per line.
type RecordList []json.RawMessage

func (r RecordList) renderText(w io.Writer, _ *OutputFormatter) error {
	for _, rec := range r {
		if _, err := fmt.Fprintln(w, string(rec)); err != nil {
			return err
		}
	}
	return nil
}

// NewAllCommand creates the all command.
func NewAllCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "all <table>",
		Short:         "Print every record of a table in key order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	limit := cmd.Flags().IntP("limit", "n", 0, "stop after this many records (0 = no limit)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runScan(rootOpts, cmd, args[0], *limit, func(ctx context.Context, h *recordHandle) iter.Seq2[json.RawMessage, error] {
			return h.All(ctx)
		})
	}
	return cmd
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <table> <index> <value>",
		Short: "Print records whose index value equals value",
		Long: `Print the records whose index value equals value, in primary-key order.
The index may be any secondary index or the primary key. Compound indexes
take a JSON array; multi-entry indexes match any element.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	limit := cmd.Flags().IntP("limit", "n", 0, "stop after this many records (0 = no limit)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runScan(rootOpts, cmd, args[0], *limit, func(ctx context.Context, h *recordHandle) iter.Seq2[json.RawMessage, error] {
			return h.QueryByIndex(ctx, args[1], parseValue(args[2]))
		})
	}
	return cmd
}

// NewFilterCommand creates the filter command.
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <table> <expression>",
		Short: "Print records matching an expression",
		Long: `Print the records for which an expr-lang expression is true, in
primary-key order. Record fields are variables:

  localdb filter projects 'status == "active" && len(members) > 2'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	limit := cmd.Flags().IntP("limit", "n", 0, "stop after this many records (0 = no limit)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runScan(rootOpts, cmd, args[0], *limit, func(ctx context.Context, h *recordHandle) iter.Seq2[json.RawMessage, error] {
			return h.Filter(ctx, args[1])
		})
	}
	return cmd
}

// runScan collects up to limit records from the sequence scan returns for
// the named table.
func runScan(opts *RootOptions, cmd *cobra.Command, name string, limit int, scan func(context.Context, *recordHandle) iter.Seq2[json.RawMessage, error]) error {
	return withTable(opts, cmd, name, func(ctx context.Context, h *recordHandle, f *OutputFormatter) error {
		out := RecordList{}
		for rec, err := range scan(ctx, h) {
			if err != nil {
				return failStore(f, err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		f.VerboseLog("%d record(s)", len(out))
		return f.Success(out)
	})
}
