// Package syncqueue is an ordered queue of pending operations stored in a
// table with an auto-increment key. Key order is enqueue order, so Pending
// returns operations in the order they were made.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	applog "github.com/roach88/localdb/internal/log"
	"github.com/roach88/localdb/internal/table"
)

// TableName is the table the queue lives in.
const TableName = "syncQueue"

// TableSpec is the index specification the queue table needs.
const TableSpec = "++id, &opId, kind"

// Item is one queued operation. Payload is opaque to the queue.
type Item struct {
	ID         int64           `json:"id,omitempty"`
	OpID       string          `json:"opId"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
}

// Queue wraps the syncQueue table of one open store.
type Queue struct {
	items *table.Handle[int64, Item]
	ids   IDGenerator
	clock Clock
	log   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator replaces the UUIDv7 operation id generator.
func WithIDGenerator(g IDGenerator) Option { return func(q *Queue) { q.ids = g } }

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(q *Queue) { q.clock = c } }

// WithLogger sets the logger. Defaults to the "syncqueue" component logger.
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.log = l } }

// New binds a queue to the syncQueue table through b.
func New(b *table.Binder, opts ...Option) (*Queue, error) {
	h, err := table.Register[int64, Item](b, TableName)
	if err != nil {
		return nil, err
	}
	return NewFromHandle(h, opts...), nil
}

// NewFromHandle wraps an already bound handle.
func NewFromHandle(h *table.Handle[int64, Item], opts ...Option) *Queue {
	q := &Queue{items: h, ids: UUIDv7Generator{}, clock: SystemClock{}}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = applog.WithComponent("syncqueue")
	}
	return q
}

// Enqueue appends an operation. payload may be raw JSON or any value that
// encodes to JSON.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (Item, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return Item{}, fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}
	it := Item{
		OpID:       q.ids.Generate(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: q.clock.Now(),
	}
	id, err := q.items.Put(ctx, it)
	if err != nil {
		return Item{}, err
	}
	it.ID = id
	q.log.Debug("enqueued", slog.Int64("id", id), slog.String("kind", kind), slog.String("op_id", it.OpID))
	return it, nil
}

// Pending yields queued operations in enqueue order.
func (q *Queue) Pending(ctx context.Context) iter.Seq2[Item, error] {
	return q.items.All(ctx)
}

// Peek returns up to n operations from the head of the queue.
func (q *Queue) Peek(ctx context.Context, n int) ([]Item, error) {
	var out []Item
	if n <= 0 {
		return out, nil
	}
	for it, err := range q.items.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// ByKind yields queued operations of one kind in enqueue order.
func (q *Queue) ByKind(ctx context.Context, kind string) iter.Seq2[Item, error] {
	return q.items.QueryByIndex(ctx, "kind", kind)
}

// Ack removes a completed operation. Acking an unknown id is a no-op.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	if err := q.items.Delete(ctx, id); err != nil {
		return err
	}
	q.log.Debug("acked", slog.Int64("id", id))
	return nil
}

// Fail records a failed attempt and keeps the operation queued. Returns
// false if the operation is no longer queued.
func (q *Queue) Fail(ctx context.Context, id int64, cause error) (bool, error) {
	cur, ok, err := q.items.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	_, ok, err = q.items.Update(ctx, id, map[string]any{
		"attempts":  cur.Attempts + 1,
		"lastError": cause.Error(),
	})
	if err != nil || !ok {
		return ok, err
	}
	q.log.Warn("operation failed", slog.Int64("id", id), slog.Int("attempts", cur.Attempts+1), slog.Any("err", cause))
	return true, nil
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.items.Count(ctx)
}
