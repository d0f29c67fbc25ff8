package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "localdb", cmd.Use)
	assert.Contains(t, cmd.Long, "versioned")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"info", "tables", "get", "put", "delete", "update", "count", "clear", "all", "query", "filter", "reset", "ready", "queue"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestQueueSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"list", "push", "ack", "fail"} {
		sub, _, err := cmd.Find([]string{"queue", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "store", "schema-version", "schema", "backend", "data-dir", "dsn", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
}

func TestScanCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"all", "query", "filter"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		limit := sub.Flags().Lookup("limit")
		require.NotNil(t, limit, name)
		assert.Equal(t, "n", limit.Shorthand)
		assert.Equal(t, "0", limit.DefValue)
	}
}

func TestResetCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	resetCmd, _, err := cmd.Find([]string{"reset"})
	require.NoError(t, err)

	yes := resetCmd.Flags().Lookup("yes")
	require.NotNil(t, yes)
	assert.Equal(t, "false", yes.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "tables"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestApplyFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  name: from-file\nbackend:\n  kind: sqlite\n  dir: /from/file\n"), 0o600))

	opts := &RootOptions{Config: cfgPath, Backend: "BOLT", DataDir: dir, Version: 3}
	s, err := openSession(opts, &OutputFormatter{Format: "text", Writer: &bytes.Buffer{}})
	require.NoError(t, err)
	defer s.close()

	assert.Equal(t, "from-file", s.cfg.Store.Name)
	assert.Equal(t, 3, s.cfg.Store.Version)
	assert.Equal(t, "bolt", s.cfg.Backend.Kind)
	assert.Equal(t, dir, s.cfg.Backend.Dir)
	assert.Equal(t, "bolt", s.mgr.Backend().Name())
}

func TestOpenSession_BadConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store: [not, a, map"), 0o600))

	out := &bytes.Buffer{}
	_, err := openSession(&RootOptions{Config: cfgPath}, &OutputFormatter{Format: "text", Writer: out})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out.String(), "Error [E002]")
}

func TestExecute(t *testing.T) {
	store := testStore(t, notesSchema)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	code := Execute(context.Background(), append(store, "put", "notes", `{"tag":"a"}`), stdout, stderr)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "put notes/1\n", stdout.String())

	stdout.Reset()
	code = Execute(context.Background(), append(store, "get", "notes", "2"), stdout, stderr)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout.String(), "Error [E004]")

	stderr.Reset()
	code = Execute(context.Background(), []string{"frobnicate"}, stdout, stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "unknown command")

	stderr.Reset()
	code = Execute(context.Background(), []string{"get", "notes"}, stdout, stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), "accepts 2 arg(s)")
}
