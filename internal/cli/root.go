package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/localdb/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	NoColor bool

	// Config is the config file. Empty uses config.DefaultPath.
	Config string

	// Store overrides. Zero values leave the config file's values alone.
	Store   string
	Version int
	Schema  string
	Backend string
	DataDir string
	DSN     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the localdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "localdb",
		Short:   "localdb - versioned local table store",
		Long:    "Inspect and edit a versioned, multi-table local store: open it at a schema version, migrate it, and read or write its tables.",
		Version: version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				msg := fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				f := &OutputFormatter{Format: "text", Writer: cmd.ErrOrStderr()}
				_ = f.Error(ErrCodeBadInput, msg, nil)
				return NewExitError(ExitCommandError, msg)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable coloured output")
	pf.StringVarP(&opts.Config, "config", "c", "", "config file (default $LOCALDB_CONFIG or the user config dir)")
	pf.StringVar(&opts.Store, "store", "", "store name")
	pf.IntVar(&opts.Version, "schema-version", 0, "schema version to open (0 = latest declared)")
	pf.StringVar(&opts.Schema, "schema", "", "YAML or CUE schema file (default: built-in application schema)")
	pf.StringVar(&opts.Backend, "backend", "", "storage backend (bolt|sqlite|sqlite-purego|postgres)")
	pf.StringVar(&opts.DataDir, "data-dir", "", "data directory for file-backed backends")
	pf.StringVar(&opts.DSN, "dsn", "", "PostgreSQL connection string")

	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewAllCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewFilterCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewReadyCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// Execute runs the CLI with args and returns the process exit code.
// Command failures are reported by the commands themselves; usage errors
// raised by cobra (unknown command, wrong argument count) are printed here.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\nRun 'localdb --help' for usage.\n", err)
	return ExitCommandError
}
