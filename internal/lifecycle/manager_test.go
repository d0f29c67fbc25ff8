package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/engine"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
	"github.com/roach88/localdb/internal/table"
)

func appDBRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	reg.MustDeclare(1, map[string]string{
		"projects":  "id",
		"syncQueue": "++id",
	})
	return reg
}

func newBackend(t *testing.T) substrate.Backend {
	t.Helper()
	b, err := substrate.NewBolt(substrate.Options{Dir: t.TempDir(), LockTimeout: 50 * time.Millisecond, Logger: applog.Discard()})
	require.NoError(t, err)
	return b
}

func newManager(t *testing.T, b substrate.Backend, version int, reg *schema.Registry) *Manager {
	t.Helper()
	m, err := New(Config{Name: "app-db", Version: version, Registry: reg, Backend: b, Logger: applog.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

type project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type queueItem struct {
	ID int64  `json:"id,omitempty"`
	Op string `json:"op"`
}

func TestManager_AppDBScenario(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())
	assert.Equal(t, Uninitialized, m.State())

	db, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Open, m.State())

	b := table.NewBinder(db)
	projects := table.MustRegister[string, project](b, "projects")
	queue := table.MustRegister[int64, queueItem](b, "syncQueue")

	_, err = projects.Put(ctx, project{ID: "p1", Name: "X"})
	require.NoError(t, err)
	got, ok, err := projects.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, project{ID: "p1", Name: "X"}, got)

	for _, op := range []string{"a", "b", "c"} {
		_, err := queue.Put(ctx, queueItem{Op: op})
		require.NoError(t, err)
	}
	items, err := table.Collect(queue.All(ctx))
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, int64(i+1), it.ID)
		assert.Equal(t, []string{"a", "b", "c"}[i], it.Op)
	}

	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, Uninitialized, m.State())

	// The old handle is dead.
	_, _, err = projects.Get(ctx, "p1")
	assert.True(t, dberr.IsHandleClosed(err))

	db, err = m.Get(ctx)
	require.NoError(t, err)
	projects = table.MustRegister[string, project](table.NewBinder(db), "projects")
	_, ok, err = projects.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_GetReturnsSameDB(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())

	a, err := m.Get(ctx)
	require.NoError(t, err)
	b, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestManager_ResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())

	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, Uninitialized, m.State())
	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, Uninitialized, m.State())

	_, err := m.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx))
	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, Uninitialized, m.State())
}

func TestManager_ResetDeletesStoreNeverOpenedHere(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	first := newManager(t, b, 1, appDBRegistry())
	db, err := first.Get(ctx)
	require.NoError(t, err)
	_, err = db.Put(ctx, "projects", map[string]any{"id": "p1"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newManager(t, b, 1, appDBRegistry())
	require.NoError(t, second.Reset(ctx))

	exists, err := b.Exists(ctx, "app-db")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManager_CloseThenGetReopens(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())

	require.NoError(t, m.Close())
	assert.Equal(t, Uninitialized, m.State())

	db, err := m.Get(ctx)
	require.NoError(t, err)
	_, err = db.Put(ctx, "projects", map[string]any{"id": "p1", "name": "X"})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Equal(t, Closed, m.State())
	require.NoError(t, m.Close())
	assert.Equal(t, Closed, m.State())

	_, err = db.Get(ctx, "projects", "p1")
	assert.True(t, dberr.IsHandleClosed(err))

	db, err = m.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Open, m.State())
	raw, err := db.Get(ctx, "projects", "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1","name":"X"}`, string(raw))
}

func TestManager_ReopensDBClosedDirectly(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())

	db, err := m.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	again, err := m.Get(ctx)
	require.NoError(t, err)
	assert.NotSame(t, db, again)
	assert.False(t, again.Closed())
}

func TestManager_VersionSkewPropagatesAndIsNotReady(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	reg := appDBRegistry()
	reg.MustDeclare(2, map[string]string{"projects": "id, name", "syncQueue": "++id"})

	v2 := newManager(t, b, 2, reg)
	_, err := v2.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, v2.Close())

	v1 := newManager(t, b, 1, reg)
	_, err = v1.Get(ctx)
	require.Error(t, err)
	assert.True(t, dberr.IsVersionSkew(err))
	assert.Equal(t, Uninitialized, v1.State())

	assert.False(t, v1.IsReady(ctx))
	assert.True(t, dberr.IsVersionSkew(v1.Probe(ctx)))

	assert.True(t, v2.IsReady(ctx))
	assert.Equal(t, Open, v2.State())
}

func TestManager_MigratesOnGet(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	reg := appDBRegistry()

	v1 := newManager(t, b, 1, reg)
	db, err := v1.Get(ctx)
	require.NoError(t, err)
	_, err = db.Put(ctx, "projects", map[string]any{"id": "p1", "name": "X"})
	require.NoError(t, err)
	require.NoError(t, v1.Close())

	reg.MustDeclare(2, map[string]string{"projects": "id, name", "syncQueue": "++id", "settings": "key"})
	v2 := newManager(t, b, 2, reg)
	db, err = v2.Get(ctx)
	require.NoError(t, err)

	var names []string
	for raw, err := range db.QueryByIndex(ctx, "projects", "name", "X") {
		require.NoError(t, err)
		var p project
		require.NoError(t, json.Unmarshal(raw, &p))
		names = append(names, p.ID)
	}
	assert.Equal(t, []string{"p1"}, names)
	assert.Equal(t, []string{"projects", "settings", "syncQueue"}, db.Tables())
}

func TestManager_ConcurrentGetOpensOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())

	const n = 16
	dbs := make([]*engine.DB, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := m.Get(ctx)
			assert.NoError(t, err)
			dbs[i] = db
		}(i)
	}
	wg.Wait()
	for _, db := range dbs {
		assert.Same(t, dbs[0], db)
	}
}

func TestManager_ConcurrentOperationsAndReset(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, newBackend(t), 1, appDBRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				db, err := m.Get(ctx)
				if !assert.NoError(t, err) {
					return
				}
				_, err = db.Put(ctx, "syncQueue", map[string]any{"op": "x"})
				// A concurrent Reset may close the DB between Get and Put.
				if err != nil {
					assert.True(t, dberr.IsHandleClosed(err), "unexpected error: %v", err)
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Reset(ctx))
	}
	wg.Wait()

	require.NoError(t, m.Reset(ctx))
	db, err := m.Get(ctx)
	require.NoError(t, err)
	n, err := db.Count(ctx, "syncQueue")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNew_Validates(t *testing.T) {
	b := newBackend(t)
	_, err := New(Config{Name: "app-db", Version: 1, Backend: b})
	assert.Error(t, err)
	_, err = New(Config{Name: "app-db", Version: 1, Registry: appDBRegistry()})
	assert.Error(t, err)
	_, err = New(Config{Name: "", Version: 1, Registry: appDBRegistry(), Backend: b})
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", State(9).String())
}
