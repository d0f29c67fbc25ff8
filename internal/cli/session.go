package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/localdb/internal/appdb"
	"github.com/roach88/localdb/internal/config"
	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/engine"
	"github.com/roach88/localdb/internal/lifecycle"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
	"github.com/roach88/localdb/internal/table"
)

// Error codes for failures that are not storage errors. Storage errors
// are reported under their dberr code (UNKNOWN_TABLE, VERSION_SKEW, ...).
const (
	ErrCodeGeneric   = "E001"
	ErrCodeConfig    = "E002"
	ErrCodeSchema    = "E003"
	ErrCodeNotFound  = "E004"
	ErrCodeBadInput  = "E005"
	ErrCodeNotReady  = "E006"
	ErrCodeNoConfirm = "E007"
)

// session is the configured store behind one command invocation.
type session struct {
	cfg config.Config
	reg *schema.Registry
	mgr *lifecycle.Manager
	log *slog.Logger
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
		Color:     !opts.NoColor && !color.NoColor,
	}
}

// openSession loads config, logging and schema and builds the Manager.
// Nothing is opened yet. Failures are reported through f.
func openSession(opts *RootOptions, f *OutputFormatter) (*session, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, fail(f, ErrCodeConfig, ExitCommandError, err)
	}
	applyFlags(&cfg, opts)

	logOpts := cfg.LogOptions()
	logOpts.Writer = f.GetErrWriter()
	if opts.Verbose {
		logOpts.Level = "debug"
	}
	applog.Init(logOpts)
	logger := applog.WithComponent("cli")

	reg, name, err := loadRegistry(cfg.Store)
	if err != nil {
		return nil, fail(f, ErrCodeSchema, ExitCommandError, err)
	}
	if opts.Store == "" && name != "" {
		cfg.Store.Name = name
	}
	if cfg.Store.Version == 0 {
		latest := reg.Latest()
		if latest == nil {
			return nil, fail(f, ErrCodeSchema, ExitCommandError, errors.New("schema declares no versions"))
		}
		cfg.Store.Version = latest.Version()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fail(f, ErrCodeConfig, ExitCommandError, err)
	}

	backend, err := substrate.New(cfg.Backend.Kind, cfg.BackendOptions(applog.WithComponent("substrate")))
	if err != nil {
		return nil, fail(f, ErrCodeConfig, ExitCommandError, err)
	}
	mgr, err := lifecycle.New(lifecycle.Config{
		Name:     cfg.Store.Name,
		Version:  cfg.Store.Version,
		Registry: reg,
		Backend:  backend,
		Logger:   applog.WithComponent("lifecycle"),
	})
	if err != nil {
		return nil, fail(f, ErrCodeConfig, ExitCommandError, err)
	}
	f.VerboseLog("store %s v%d on %s", cfg.Store.Name, cfg.Store.Version, backend.Name())
	return &session{cfg: cfg, reg: reg, mgr: mgr, log: logger}, nil
}

// applyFlags lets command-line flags override config and environment.
func applyFlags(cfg *config.Config, opts *RootOptions) {
	if opts.Store != "" {
		cfg.Store.Name = opts.Store
	}
	if opts.Version != 0 {
		cfg.Store.Version = opts.Version
	}
	if opts.Schema != "" {
		cfg.Store.Schema = opts.Schema
	}
	if opts.Backend != "" {
		cfg.Backend.Kind = strings.ToLower(opts.Backend)
	}
	if opts.DataDir != "" {
		cfg.Backend.Dir = opts.DataDir
	}
	if opts.DSN != "" {
		cfg.Backend.DSN = opts.DSN
	}
}

// loadRegistry returns the registry for the configured schema file, or
// the built-in application registry when there is none. name is the store
// name the schema file declares, if any.
func loadRegistry(sc config.StoreConfig) (reg *schema.Registry, name string, err error) {
	if sc.Schema == "" {
		return appdb.Registry(), "", nil
	}
	doc, err := schema.LoadFile(sc.Schema)
	if err != nil {
		return nil, "", err
	}
	reg, err = doc.Registry()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", sc.Schema, err)
	}
	return reg, doc.Name, nil
}

func (s *session) db(ctx context.Context) (*engine.DB, error) {
	return s.mgr.Get(ctx)
}

func (s *session) close() {
	if err := s.mgr.Close(); err != nil {
		s.log.Warn("close store", slog.Any("error", err))
	}
	_ = applog.Close()
}

// withDB opens the store and runs fn against it. Failures from opening
// the store are reported through f.
func withDB(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, db *engine.DB, f *OutputFormatter) error) error {
	f := newFormatter(opts, cmd)
	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := cmd.Context()
	db, err := s.db(ctx)
	if err != nil {
		return failStore(f, err)
	}
	return fn(ctx, db, f)
}

// recordHandle is the untyped handle the record commands work through: keys as
// decoded from the command line, records as raw JSON.
type recordHandle = table.Handle[any, json.RawMessage]

// withTable opens the store and binds a handle to the named table. An
// unknown table is reported when the handle is bound, before any record
// access.
func withTable(opts *RootOptions, cmd *cobra.Command, name string, fn func(ctx context.Context, h *recordHandle, f *OutputFormatter) error) error {
	return withDB(opts, cmd, func(ctx context.Context, db *engine.DB, f *OutputFormatter) error {
		h, err := table.Register[any, json.RawMessage](table.NewBinder(db), name)
		if err != nil {
			return failStore(f, err)
		}
		return fn(ctx, h, f)
	})
}

// fail reports err under code and returns the matching ExitError.
func fail(f *OutputFormatter, code string, exit int, err error) error {
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exit, code, err)
}

// failStore reports a storage error under its dberr code.
func failStore(f *OutputFormatter, err error) error {
	code := string(dberr.CodeOf(err))
	if code == "" {
		code = ErrCodeGeneric
	}
	return fail(f, code, ExitFailure, err)
}

// parseValue interprets a key or index value argument. JSON numbers,
// strings and arrays are decoded; anything else is taken as a bare string,
// so `get projects p1` and `get syncQueue 3` both work. Quote a numeric
// string to look it up as a string: `get settings '"42"'`.
func parseValue(arg string) any {
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.InputOffset() != int64(len(arg)) {
		return arg
	}
	switch v.(type) {
	case json.Number, string, []any:
		return v
	default:
		return arg
	}
}

// readJSON returns arg as JSON, reading stdin when arg is "-".
func readJSON(arg string, stdin io.Reader) (json.RawMessage, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, errors.New("argument is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// keyText renders a primary key the way it is typed on the command line.
func keyText(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Sprint(key)
	}
	return string(data)
}
