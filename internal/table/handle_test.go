package table

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/engine"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
)

type project struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags,omitempty"`
	Owner string   `json:"owner,omitempty"`
}

type queueItem struct {
	ID *int64 `json:"id,omitempty"`
	Op string `json:"op"`
}

type workState struct {
	ProjectID string `json:"projectId"`
	TableID   string `json:"tableId"`
	Status    string `json:"status"`
}

func openStore(t *testing.T) *engine.DB {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustDeclare(1, map[string]string{
		"projects":        "id, name, *tags",
		"syncQueue":       "++id",
		"tableWorkStates": "[projectId+tableId], status",
	})
	b, err := substrate.NewBolt(substrate.Options{Dir: t.TempDir(), LockTimeout: 50 * time.Millisecond, Logger: applog.Discard()})
	require.NoError(t, err)
	db, err := engine.Open(context.Background(), "handles", 1, reg, engine.Options{Backend: b, Logger: applog.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Destroy(context.Background()) })
	return db
}

func TestHandle_TypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewBinder(openStore(t))
	projects := MustRegister[string, project](b, "projects")
	assert.Equal(t, "projects", projects.Name())

	in := project{ID: "p1", Name: "X", Tags: []string{"a", "b"}}
	key, err := projects.Put(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "p1", key)

	got, ok, err := projects.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, got)

	_, ok, err = projects.Get(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, projects.Delete(ctx, "p1"))
	_, ok, err = projects.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandle_AutoIncrementKeys(t *testing.T) {
	ctx := context.Background()
	queue := MustRegister[int, queueItem](NewBinder(openStore(t)), "syncQueue")

	keys, err := queue.BulkPut(ctx, []queueItem{{Op: "a"}, {Op: "b"}, {Op: "c"}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, keys)

	items, err := Collect(queue.All(ctx))
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		require.NotNil(t, it.ID)
		assert.Equal(t, int64(i+1), *it.ID)
	}
	assert.Equal(t, "a", items[0].Op)

	n, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, queue.Clear(ctx))
	n, err = queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandle_QueryFilterUpdate(t *testing.T) {
	ctx := context.Background()
	projects := MustRegister[string, project](NewBinder(openStore(t)), "projects")

	_, err := projects.BulkPut(ctx, []project{
		{ID: "p2", Name: "same", Tags: []string{"x"}},
		{ID: "p1", Name: "same"},
		{ID: "p3", Name: "other", Tags: []string{"x", "y"}},
	})
	require.NoError(t, err)

	same, err := Collect(projects.QueryByIndex(ctx, "name", "same"))
	require.NoError(t, err)
	require.Len(t, same, 2)
	assert.Equal(t, "p1", same[0].ID)
	assert.Equal(t, "p2", same[1].ID)

	tagged, err := Collect(projects.Filter(ctx, `tags != nil && "y" in tags`))
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "p3", tagged[0].ID)

	got, ok, err := projects.Update(ctx, "p1", map[string]any{"owner": "ann"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, project{ID: "p1", Name: "same", Owner: "ann"}, got)

	_, ok, err = projects.Update(ctx, "missing", []byte(`{"owner":"bob"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandle_CompoundKeys(t *testing.T) {
	ctx := context.Background()
	states := MustRegister[[2]string, workState](NewBinder(openStore(t)), "tableWorkStates")

	key, err := states.Put(ctx, workState{ProjectID: "p1", TableID: "t1", Status: "open"})
	require.NoError(t, err)
	assert.Equal(t, [2]string{"p1", "t1"}, key)

	got, ok, err := states.Get(ctx, [2]string{"p1", "t1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "open", got.Status)
}

func TestHandle_FailsAfterClose(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	projects := MustRegister[string, project](NewBinder(db), "projects")
	require.NoError(t, db.Close())

	_, _, err := projects.Get(ctx, "p1")
	assert.True(t, dberr.IsHandleClosed(err))
	_, err = projects.Put(ctx, project{ID: "p1"})
	assert.True(t, dberr.IsHandleClosed(err))
	assert.True(t, dberr.IsHandleClosed(projects.Delete(ctx, "p1")))
	_, err = Collect(projects.All(ctx))
	assert.True(t, dberr.IsHandleClosed(err))
	_, err = Collect(projects.QueryByIndex(ctx, "name", "x"))
	assert.True(t, dberr.IsHandleClosed(err))
}

func TestHandle_NeverCaches(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	projects := MustRegister[string, project](NewBinder(db), "projects")

	_, err := projects.Put(ctx, project{ID: "p1", Name: "before"})
	require.NoError(t, err)
	_, err = db.Put(ctx, "projects", map[string]any{"id": "p1", "name": "after"})
	require.NoError(t, err)

	got, _, err := projects.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
}

func TestBinder_Register(t *testing.T) {
	b := NewBinder(openStore(t))

	_, err := Register[string, project](b, "nope")
	require.Error(t, err)
	assert.True(t, dberr.IsUnknownTable(err))
	assert.Panics(t, func() { MustRegister[string, project](b, "nope") })

	assert.Equal(t, []string{"projects", "syncQueue", "tableWorkStates"}, b.Unbound())
	MustRegister[string, project](b, "projects")
	assert.Equal(t, []string{"syncQueue", "tableWorkStates"}, b.Unbound())
}

func TestBinder_RegisterAutoIncrementKeyType(t *testing.T) {
	ctx := context.Background()
	b := NewBinder(openStore(t))

	_, err := Register[string, queueItem](b, "syncQueue")
	require.Error(t, err)
	assert.True(t, dberr.IsSchemaMismatch(err))

	_, err = Register[[2]string, queueItem](b, "syncQueue")
	assert.True(t, dberr.IsSchemaMismatch(err))

	// String keys are fine where the caller supplies them.
	_, err = Register[string, project](b, "projects")
	require.NoError(t, err)

	byNumber, err := Register[float64, queueItem](b, "syncQueue")
	require.NoError(t, err)
	key, err := byNumber.Put(ctx, queueItem{Op: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, key)

	untyped, err := Register[any, queueItem](b, "syncQueue")
	require.NoError(t, err)
	key2, err := untyped.Put(ctx, queueItem{Op: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), key2)
}
