package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/localdb/internal/engine"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/syncqueue"
	"github.com/roach88/localdb/internal/table"
)

// QueueItems is a list of queued operations.
type QueueItems []syncqueue.Item

// QueueAck reports an acknowledged or failed operation.
type QueueAck struct {
	ID     int64  `json:"id"`
	Action string `json:"action"` // "acked" | "failed"
	Queued bool   `json:"queued"`
}

// NewQueueCommand creates the queue command and its subcommands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the sync queue",
		Long: `Inspect and edit the pending-operation queue kept in the syncQueue table.
Operations are listed in the order they were enqueued.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List pending operations in enqueue order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	kind := list.Flags().String("kind", "", "only operations of this kind")
	limit := list.Flags().IntP("limit", "n", 0, "stop after this many operations (0 = no limit)")
	list.RunE = func(cmd *cobra.Command, args []string) error {
		return runQueueList(rootOpts, *kind, *limit, cmd)
	}

	push := &cobra.Command{
		Use:           "push <kind> [payload|-]",
		Short:         "Enqueue an operation",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := ""
			if len(args) == 2 {
				payload = args[1]
			}
			return runQueuePush(rootOpts, args[0], payload, cmd)
		},
	}

	ack := &cobra.Command{
		Use:           "ack <id>",
		Short:         "Remove a completed operation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueAck(rootOpts, args[0], "", cmd)
		},
	}

	failCmd := &cobra.Command{
		Use:           "fail <id> <message>",
		Short:         "Record a failed attempt and keep the operation queued",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueAck(rootOpts, args[0], args[1], cmd)
		},
	}

	cmd.AddCommand(list, push, ack, failCmd)
	return cmd
}

// withQueue binds the sync queue of the open store.
func withQueue(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, q *syncqueue.Queue, f *OutputFormatter) error) error {
	return withDB(opts, cmd, func(ctx context.Context, db *engine.DB, f *OutputFormatter) error {
		q, err := syncqueue.New(table.NewBinder(db), syncqueue.WithLogger(applog.WithComponent("syncqueue")))
		if err != nil {
			return failStore(f, err)
		}
		return fn(ctx, q, f)
	})
}

func runQueueList(opts *RootOptions, kind string, limit int, cmd *cobra.Command) error {
	return withQueue(opts, cmd, func(ctx context.Context, q *syncqueue.Queue, f *OutputFormatter) error {
		var seq iter.Seq2[syncqueue.Item, error]
		if kind != "" {
			seq = q.ByKind(ctx, kind)
		} else {
			seq = q.Pending(ctx)
		}
		out := QueueItems{}
		for it, err := range seq {
			if err != nil {
				return failStore(f, err)
			}
			out = append(out, it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return f.Success(out)
	})
}

func runQueuePush(opts *RootOptions, kind, arg string, cmd *cobra.Command) error {
	var payload any
	if arg != "" {
		data, err := readJSON(arg, cmd.InOrStdin())
		if err != nil {
			return fail(newFormatter(opts, cmd), ErrCodeBadInput, ExitCommandError, err)
		}
		payload = data
	}
	return withQueue(opts, cmd, func(ctx context.Context, q *syncqueue.Queue, f *OutputFormatter) error {
		it, err := q.Enqueue(ctx, kind, payload)
		if err != nil {
			return failStore(f, err)
		}
		return f.Success(QueueItems{it})
	})
}

// runQueueAck acks id, or records a failed attempt when message is set.
func runQueueAck(opts *RootOptions, arg, message string, cmd *cobra.Command) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fail(newFormatter(opts, cmd), ErrCodeBadInput, ExitCommandError, fmt.Errorf("invalid operation id %q", arg))
	}
	return withQueue(opts, cmd, func(ctx context.Context, q *syncqueue.Queue, f *OutputFormatter) error {
		if message == "" {
			if err := q.Ack(ctx, id); err != nil {
				return failStore(f, err)
			}
			return f.Success(QueueAck{ID: id, Action: "acked"})
		}
		queued, err := q.Fail(ctx, id, errors.New(message))
		if err != nil {
			return failStore(f, err)
		}
		if !queued {
			return fail(f, ErrCodeNotFound, ExitFailure, fmt.Errorf("operation %d is not queued", id))
		}
		return f.Success(QueueAck{ID: id, Action: "failed", Queued: true})
	})
}

func (r QueueItems) renderText(w io.Writer, f *OutputFormatter) error {
	for _, it := range r {
		line := fmt.Sprintf("%d  %s  %s  %s", it.ID, it.EnqueuedAt.Format(time.RFC3339), it.Kind, it.OpID)
		if it.Attempts > 0 {
			line += f.paint(fmt.Sprintf("  attempts=%d last_error=%q", it.Attempts, it.LastError), color.FgYellow)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func (r QueueAck) renderText(w io.Writer, f *OutputFormatter) error {
	_, err := fmt.Fprintf(w, "%s %d\n", f.paint(r.Action, color.FgGreen), r.ID)
	return err
}
