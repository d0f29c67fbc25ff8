package syncqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/localdb/internal/dberr"
	"github.com/roach88/localdb/internal/engine"
	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
	"github.com/roach88/localdb/internal/table"
	"github.com/roach88/localdb/internal/testutil"
)

func openQueue(t *testing.T, opts ...Option) (*Queue, *engine.DB) {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustDeclare(1, map[string]string{TableName: TableSpec})
	b, err := substrate.NewBolt(substrate.Options{Dir: t.TempDir(), LockTimeout: 50 * time.Millisecond, Logger: applog.Discard()})
	require.NoError(t, err)
	db, err := engine.Open(context.Background(), "queue", 1, reg, engine.Options{Backend: b, Logger: applog.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Destroy(context.Background()) })

	opts = append([]Option{WithLogger(applog.Discard())}, opts...)
	q, err := New(table.NewBinder(db), opts...)
	require.NoError(t, err)
	return q, db
}

func TestQueue_EnqueueOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t,
		WithIDGenerator(testutil.NewSequentialIDs("op")),
		WithClock(testutil.NewDeterministicClock(time.Second)))

	for _, kind := range []string{"project.create", "project.update", "record.delete"} {
		_, err := q.Enqueue(ctx, kind, map[string]any{"kind": kind})
		require.NoError(t, err)
	}

	items, err := table.Collect(q.Pending(ctx))
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, int64(i+1), it.ID)
		assert.Equal(t, testutil.Epoch.Add(time.Duration(i)*time.Second), it.EnqueuedAt)
	}
	assert.Equal(t, "op-0001", items[0].OpID)
	assert.Equal(t, "project.update", items[1].Kind)
	assert.JSONEq(t, `{"kind":"record.delete"}`, string(items[2].Payload))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueue_DefaultOpIDsAreUUIDv7(t *testing.T) {
	q, _ := openQueue(t)
	it, err := q.Enqueue(context.Background(), "x", nil)
	require.NoError(t, err)

	id, err := uuid.Parse(it.OpID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Nil(t, it.Payload)
}

func TestQueue_AckAndPeek(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, "x", []byte(`{"n":1}`))
		require.NoError(t, err)
	}
	head, err := q.Peek(ctx, 2)
	require.NoError(t, err)
	require.Len(t, head, 2)

	require.NoError(t, q.Ack(ctx, head[0].ID))
	require.NoError(t, q.Ack(ctx, head[0].ID))

	head, err = q.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, head, 3)
	assert.Equal(t, int64(2), head[0].ID)

	empty, err := q.Peek(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueue_FailKeepsItemQueued(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	it, err := q.Enqueue(ctx, "x", nil)
	require.NoError(t, err)

	ok, err := q.Fail(ctx, it.ID, errors.New("offline"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.Fail(ctx, it.ID, errors.New("timeout"))
	require.NoError(t, err)
	assert.True(t, ok)

	head, err := q.Peek(ctx, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, 2, head[0].Attempts)
	assert.Equal(t, "timeout", head[0].LastError)
	assert.Equal(t, it.OpID, head[0].OpID)

	ok, err = q.Fail(ctx, 99, errors.New("gone"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_ByKind(t *testing.T) {
	ctx := context.Background()
	q, _ := openQueue(t)

	for _, kind := range []string{"a", "b", "a"} {
		_, err := q.Enqueue(ctx, kind, nil)
		require.NoError(t, err)
	}
	items, err := table.Collect(q.ByKind(ctx, "a"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, int64(3), items[1].ID)
}

func TestQueue_FailsAfterClose(t *testing.T) {
	ctx := context.Background()
	q, db := openQueue(t)
	require.NoError(t, db.Close())

	_, err := q.Enqueue(ctx, "x", nil)
	assert.True(t, dberr.IsHandleClosed(err))
	_, err = q.Len(ctx)
	assert.True(t, dberr.IsHandleClosed(err))
}

func TestNew_RequiresQueueTable(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustDeclare(1, map[string]string{"projects": "id"})
	b, err := substrate.NewBolt(substrate.Options{Dir: t.TempDir(), Logger: applog.Discard()})
	require.NoError(t, err)
	db, err := engine.Open(context.Background(), "noqueue", 1, reg, engine.Options{Backend: b, Logger: applog.Discard()})
	require.NoError(t, err)
	defer db.Close()

	_, err = New(table.NewBinder(db))
	assert.True(t, dberr.IsUnknownTable(err))
}
