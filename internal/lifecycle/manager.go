// Package lifecycle owns the single open store of a process.
//
// A Manager moves between three states:
//
//	Uninitialized --Get--> Open --Close--> Closed --Get--> Open
//	      any     --Reset--> Uninitialized
//
// Get, Reset and Close are serialized by one mutex. Reset holds it while
// the store is deleted, so no caller can obtain a handle to a store that is
// being destroyed. Table operations do not take the mutex; once Get has
// returned a DB they run concurrently and the DB guards its own closed state.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/localdb/internal/engine"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
)

// State is the lifecycle state of a Manager.
type State int

const (
	Uninitialized State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config identifies the store a Manager owns.
type Config struct {
	Name     string
	Version  int
	Registry *schema.Registry
	Backend  substrate.Backend

	// Logger defaults to the "lifecycle" component logger.
	Logger *slog.Logger
}

// Manager owns at most one open engine.DB.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	db    *engine.DB
	state State
}

// New creates a Manager in the Uninitialized state. Nothing is opened
// until the first Get.
func New(cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.New("lifecycle: Config.Registry is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("lifecycle: Config.Backend is required")
	}
	if err := substrate.ValidateStoreName(cfg.Name); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.WithComponent("lifecycle")
	}
	return &Manager{
		cfg: cfg,
		log: logger.With(slog.String("store", cfg.Name)),
	}, nil
}

// Name returns the managed store's name.
func (m *Manager) Name() string { return m.cfg.Name }

// Version returns the schema version the store is opened at.
func (m *Manager) Version() int { return m.cfg.Version }

// Backend returns the backend hosting the store.
func (m *Manager) Backend() substrate.Backend { return m.cfg.Backend }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Get returns the open DB, opening it first if needed. A DB closed behind
// the Manager's back is reopened. Open and migration errors are returned
// unchanged and leave the state as it was.
func (m *Manager) Get(ctx context.Context) (*engine.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Open && !m.db.Closed() {
		return m.db, nil
	}
	db, err := engine.Open(ctx, m.cfg.Name, m.cfg.Version, m.cfg.Registry, engine.Options{
		Backend: m.cfg.Backend,
		Logger:  m.cfg.Logger,
	})
	if err != nil {
		m.log.Warn("open failed", slog.Any("err", err))
		return nil, err
	}
	m.db = db
	m.state = Open
	m.log.Info("store opened", slog.Int("version", m.cfg.Version))
	return db, nil
}

// Reset irreversibly deletes the store and returns to Uninitialized. The
// store is deleted even if this Manager never opened it. Handles obtained
// earlier fail with HandleClosed. Calling Reset again is a no-op on an
// already deleted store.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.db != nil && !m.db.Closed() {
		err = m.db.Destroy(ctx)
	} else {
		err = engine.DestroyStore(ctx, m.cfg.Backend, m.cfg.Name)
	}
	m.db = nil
	m.state = Uninitialized
	if err != nil {
		m.log.Error("reset failed", slog.Any("err", err))
		return err
	}
	m.log.Info("store reset")
	return nil
}

// Close closes the open DB. It is a no-op unless the state is Open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.state = Closed
	m.log.Debug("store closed")
	return err
}

// Probe opens the store if needed and checks it can be read. It reports
// why the store is not ready; IsReady is the boolean form.
func (m *Manager) Probe(ctx context.Context) error {
	db, err := m.Get(ctx)
	if err != nil {
		return err
	}
	return db.Ping(ctx)
}

// IsReady reports whether the store can be opened and read. It never
// returns an error; the cause of a false result is logged.
func (m *Manager) IsReady(ctx context.Context) bool {
	if err := m.Probe(ctx); err != nil {
		m.log.Debug("store not ready", slog.Any("err", err))
		return false
	}
	return true
}
