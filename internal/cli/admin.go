package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// ResetResult reports a destroyed store.
type ResetResult struct {
	Store string `json:"store"`
	Reset bool   `json:"reset"`
}

// ReadyResult reports whether the store can be opened and read.
type ReadyResult struct {
	Store   string `json:"store"`
	Version int    `json:"version"`
	Ready   bool   `json:"ready"`
	Cause   string `json:"cause,omitempty"`
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Irreversibly delete the store",
		Long: `Delete the store and all of its data. The next command recreates it empty
at the configured schema version. Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	yes := cmd.Flags().Bool("yes", false, "confirm deletion")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runReset(rootOpts, *yes, cmd)
	}
	return cmd
}

func runReset(opts *RootOptions, yes bool, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.close()

	if !yes {
		return fail(f, ErrCodeNoConfirm, ExitCommandError,
			fmt.Errorf("reset deletes every record in store %s; pass --yes to confirm", s.cfg.Store.Name))
	}
	if err := s.mgr.Reset(cmd.Context()); err != nil {
		return failStore(f, err)
	}
	return f.Success(ResetResult{Store: s.cfg.Store.Name, Reset: true})
}

// NewReadyCommand creates the ready command.
func NewReadyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check the store can be opened and read",
		Long: `Open the store (migrating it if needed) and read from it. Exits 0 when
ready and 1 otherwise, printing the cause.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReady(rootOpts, cmd)
		},
	}
}

func runReady(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.close()

	res := ReadyResult{Store: s.cfg.Store.Name, Version: s.cfg.Store.Version, Ready: true}
	probeErr := s.mgr.Probe(cmd.Context())
	if probeErr != nil {
		res.Ready = false
		res.Cause = probeErr.Error()
	}
	if err := f.Success(res); err != nil {
		return err
	}
	if probeErr != nil {
		return WrapExitError(ExitFailure, ErrCodeNotReady, probeErr)
	}
	return nil
}

func (r ResetResult) renderText(w io.Writer, f *OutputFormatter) error {
	_, err := fmt.Fprintf(w, "%s store %s\n", f.paint("reset", color.FgYellow), r.Store)
	return err
}

func (r ReadyResult) renderText(w io.Writer, f *OutputFormatter) error {
	if r.Ready {
		_, err := fmt.Fprintf(w, "%s %s v%d\n", f.paint("ready", color.FgGreen), r.Store, r.Version)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s v%d: %s\n", f.paint("not ready", color.FgRed), r.Store, r.Version, r.Cause)
	return err
}
