// Package appdb declares the application's local database: its tables,
// its schema versions, and a Database with a typed handle per table.
package appdb

import (
	"log/slog"

	"github.com/roach88/localdb/internal/lifecycle"
	"github.com/roach88/localdb/internal/schema"
	"github.com/roach88/localdb/internal/substrate"
	"github.com/roach88/localdb/internal/syncqueue"
)

const (
	// Name is the store name.
	Name = "app-db"

	// Version is the current schema version.
	Version = 1
)

// Table names.
const (
	Projects        = "projects"
	Tables          = "tables"
	TableWorkStates = "tableWorkStates"
	WorkRecords     = "workRecords"
	SyncQueue       = syncqueue.TableName
	Settings        = "settings"
	Conversations   = "conversations"
	Messages        = "messages"
	ChatUsers       = "chatUsers"
	MessageDrafts   = "messageDrafts"
)

// V1 is the version 1 schema.
var V1 = map[string]string{
	Projects:        "id, status, updatedAt",
	Tables:          "id, projectId, [projectId+code]",
	TableWorkStates: "id, projectId, tableId, status",
	WorkRecords:     "id, projectId, tableId, userId, createdAt",
	SyncQueue:       syncqueue.TableSpec,
	Settings:        "key",
	Conversations:   "id, projectId, updatedAt, *participantIds",
	Messages:        "id, conversationId, [conversationId+createdAt], senderId",
	ChatUsers:       "id, &email",
	MessageDrafts:   "conversationId",
}

// Registry returns a registry with every application schema version.
func Registry() *schema.Registry {
	reg := schema.NewRegistry()
	reg.MustDeclare(1, V1)
	return reg
}

// NewManager creates the lifecycle manager for the application store.
// logger may be nil.
func NewManager(backend substrate.Backend, logger *slog.Logger) (*lifecycle.Manager, error) {
	return lifecycle.New(lifecycle.Config{
		Name:     Name,
		Version:  Version,
		Registry: Registry(),
		Backend:  backend,
		Logger:   logger,
	})
}
