// Package config loads the localdb configuration: a YAML file with
// defaults filled in and environment variables applied as overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/substrate"
)

// StoreConfig selects the store and its schema.
type StoreConfig struct {
	Name string `yaml:"name"`
	// Version 0 opens the latest declared version.
	Version int `yaml:"version"`
	// Schema is a YAML or CUE schema file. Empty uses the built-in
	// application schema.
	Schema string `yaml:"schema"`
}

// BackendConfig selects the durable substrate.
type BackendConfig struct {
	Kind          string `yaml:"kind"` // bolt | sqlite | sqlite-purego | postgres
	Dir           string `yaml:"dir"`
	DSN           string `yaml:"dsn"`
	LockTimeoutMs int    `yaml:"lock_timeout_ms"`
}

// LoggingConfig mirrors log.Options.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Config is the full configuration.
type Config struct {
	ConfigVersion int           `yaml:"config_version"`
	Store         StoreConfig   `yaml:"store"`
	Backend       BackendConfig `yaml:"backend"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Env var names used as overrides. Logging uses the log package's names.
const (
	EnvConfig        = "LOCALDB_CONFIG"
	EnvStore         = "LOCALDB_STORE"
	EnvVersion       = "LOCALDB_VERSION"
	EnvSchema        = "LOCALDB_SCHEMA"
	EnvBackend       = "LOCALDB_BACKEND"
	EnvDataDir       = "LOCALDB_DATA_DIR"
	EnvPostgresDSN   = "LOCALDB_PG_DSN"
	EnvLockTimeoutMs = "LOCALDB_LOCK_TIMEOUT_MS"
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ConfigVersion: 1,
		Store:         StoreConfig{Name: "app-db"},
		Backend: BackendConfig{
			Kind:          substrate.KindBolt,
			Dir:           DefaultDataDir(),
			LockTimeoutMs: int(substrate.DefaultLockTimeout / time.Millisecond),
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return filepath.Join(base, "localdb")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".localdb"
	}
	return filepath.Join(home, ".local", "share", "localdb")
}

// DefaultPath returns the config file used when none is given:
// $LOCALDB_CONFIG, else localdb/config.yaml under the user config dir.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "localdb", "config.yaml"), nil
}

// Load reads the config file at path (DefaultPath if empty), fills in
// defaults, and applies environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML to path.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if err := substrate.ValidateStoreName(c.Store.Name); err != nil {
		return err
	}
	if c.Store.Version < 0 {
		return fmt.Errorf("store.version must be >= 0, got %d", c.Store.Version)
	}
	if !slices.Contains(substrate.Kinds, c.Backend.Kind) {
		return fmt.Errorf("backend.kind %q: must be one of %v", c.Backend.Kind, substrate.Kinds)
	}
	if c.Backend.Kind == substrate.KindPostgres && c.Backend.DSN == "" {
		return errors.New("backend.dsn is required for the postgres backend")
	}
	return nil
}

// BackendOptions converts the backend section to substrate options.
func (c Config) BackendOptions(logger *slog.Logger) substrate.Options {
	return substrate.Options{
		Dir:         c.Backend.Dir,
		DSN:         c.Backend.DSN,
		LockTimeout: time.Duration(c.Backend.LockTimeoutMs) * time.Millisecond,
		Logger:      logger,
	}
}

// LogOptions converts the logging section to log options.
func (c Config) LogOptions() applog.Options {
	return applog.Options{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.Source,
		File:      c.Logging.File,
	}
}

func mergeInto(dst, src *Config) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if s := strings.TrimSpace(src.Store.Name); s != "" {
		dst.Store.Name = s
	}
	if src.Store.Version != 0 {
		dst.Store.Version = src.Store.Version
	}
	if s := strings.TrimSpace(src.Store.Schema); s != "" {
		dst.Store.Schema = s
	}
	if s := strings.TrimSpace(src.Backend.Kind); s != "" {
		dst.Backend.Kind = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Backend.Dir); s != "" {
		dst.Backend.Dir = s
	}
	if s := strings.TrimSpace(src.Backend.DSN); s != "" {
		dst.Backend.DSN = s
	}
	if src.Backend.LockTimeoutMs != 0 {
		dst.Backend.LockTimeoutMs = src.Backend.LockTimeoutMs
	}
	if s := strings.TrimSpace(src.Logging.Level); s != "" {
		dst.Logging.Level = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Logging.Format); s != "" {
		dst.Logging.Format = strings.ToLower(s)
	}
	dst.Logging.Source = src.Logging.Source
	if s := strings.TrimSpace(src.Logging.File); s != "" {
		dst.Logging.File = s
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvStore)); v != "" {
		cfg.Store.Name = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvVersion)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVersion, err)
		}
		cfg.Store.Version = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvSchema)); v != "" {
		cfg.Store.Schema = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		cfg.Backend.Kind = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.Backend.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		cfg.Backend.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLockTimeoutMs)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLockTimeoutMs, err)
		}
		cfg.Backend.LockTimeoutMs = n
	}
	if v := strings.TrimSpace(os.Getenv(applog.EnvLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(applog.EnvFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(applog.EnvSource)); v != "" {
		lv := strings.ToLower(v)
		cfg.Logging.Source = lv == "1" || lv == "true" || lv == "on" || lv == "yes"
	}
	if v := strings.TrimSpace(os.Getenv(applog.EnvFile)); v != "" {
		cfg.Logging.File = v
	}
	return nil
}
