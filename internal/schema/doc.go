// Package schema declares versioned store schemas.
//
// A Definition maps table names to index specification strings for one
// schema version. A Registry collects definitions and enforces that versions
// are append-only: a later version may add tables and indexes but never
// drops or redefines what an earlier version declared.
//
// # Index specification strings
//
// A spec is a comma-separated list. The first entry is the primary key, the
// rest are secondary indexes:
//
//	"++id"                      auto-incrementing numeric key "id"
//	"id, name, &email"          explicit key, index on name, unique index on email
//	"id, *tags"                 multi-entry index: one entry per element of tags
//	"id, [projectId+createdAt]" compound index over two key paths
//	"[tableId+day], meta.owner" compound primary key, dotted key path
//
// Whitespace is ignored. Index names are the entry without its modifiers.
package schema
