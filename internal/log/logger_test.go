package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Writer: &buf})
	t.Cleanup(func() { Init(Options{Writer: &bytes.Buffer{}}) })

	WithOperation(WithComponent("engine"), "open").Debug("store ready", slog.String("store", "app-db"))

	out := buf.String()
	assert.Contains(t, out, "store ready")
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "op=open")
	assert.Contains(t, out, "store=app-db")
	assert.Contains(t, out, "app=localdb")
}

func TestInit_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "warn", Writer: &buf})
	t.Cleanup(func() { Init(Options{Writer: &bytes.Buffer{}}) })

	L().Info("hidden")
	L().Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestInit_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localdb.log")
	Init(Options{Level: "info", Format: "json", File: path, Writer: &bytes.Buffer{}})
	t.Cleanup(func() {
		Close()
		Init(Options{Writer: &bytes.Buffer{}})
	})

	WithComponent("lifecycle").Info("reset", slog.Int("version", 2))
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var last string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		if s := strings.TrimSpace(scanner.Text()); s != "" {
			last = s
		}
	}
	require.NotEmpty(t, last)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(last), &m))
	assert.Equal(t, "reset", m["msg"])
	assert.Equal(t, "lifecycle", m["component"])
	assert.Equal(t, float64(2), m["version"])
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	t.Setenv(EnvFormat, "json")
	t.Setenv(EnvSource, "TRUE")
	t.Setenv(EnvFile, "/tmp/x.log")

	opts := FromEnv()
	assert.Equal(t, "debug", opts.Level)
	assert.Equal(t, "json", opts.Format)
	assert.True(t, opts.AddSource)
	assert.Equal(t, "/tmp/x.log", opts.File)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
