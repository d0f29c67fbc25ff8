package appdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/localdb/internal/engine"
	"github.com/roach88/localdb/internal/lifecycle"
	"github.com/roach88/localdb/internal/syncqueue"
	"github.com/roach88/localdb/internal/table"
)

// Document is an application record. Its shape belongs to the caller.
type Document = map[string]any

// Database is the open application store with one handle per table.
// Handles die with the store: after the Manager resets or closes it, call
// Open again.
type Database struct {
	DB *engine.DB

	Projects        *table.Handle[string, Document]
	Tables          *table.Handle[string, Document]
	TableWorkStates *table.Handle[string, Document]
	WorkRecords     *table.Handle[string, Document]
	Settings        *table.Handle[string, Document]
	Conversations   *table.Handle[string, Document]
	Messages        *table.Handle[string, Document]
	ChatUsers       *table.Handle[string, Document]
	MessageDrafts   *table.Handle[string, Document]

	SyncQueue *syncqueue.Queue
}

// Open gets the store from mgr and binds every table.
func Open(ctx context.Context, mgr *lifecycle.Manager, opts ...syncqueue.Option) (*Database, error) {
	db, err := mgr.Get(ctx)
	if err != nil {
		return nil, err
	}
	b := table.NewBinder(db)
	d := &Database{DB: db}
	handles := []struct {
		dst  **table.Handle[string, Document]
		name string
	}{
		{&d.Projects, Projects},
		{&d.Tables, Tables},
		{&d.TableWorkStates, TableWorkStates},
		{&d.WorkRecords, WorkRecords},
		{&d.Settings, Settings},
		{&d.Conversations, Conversations},
		{&d.Messages, Messages},
		{&d.ChatUsers, ChatUsers},
		{&d.MessageDrafts, MessageDrafts},
	}
	for _, h := range handles {
		if *h.dst, err = table.Register[string, Document](b, h.name); err != nil {
			return nil, err
		}
	}
	if d.SyncQueue, err = syncqueue.New(b, opts...); err != nil {
		return nil, err
	}
	if rest := b.Unbound(); len(rest) > 0 {
		return nil, fmt.Errorf("appdb: tables without a handle: %s", strings.Join(rest, ", "))
	}
	return d, nil
}
