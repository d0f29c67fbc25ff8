// Package substrate provides the durable key-value layer the storage engine
// is built on.
//
// A substrate stores raw byte keys and values in named buckets, iterates keys
// in ascending byte order, and keeps a monotonically increasing sequence per
// bucket. All access happens inside View (read) or Update (read-write)
// transactions; an Update either commits entirely or not at all, and a
// committed Update is durable before it returns.
//
// Backends:
//   - bolt: go.etcd.io/bbolt, one file per store
//   - sqlite: github.com/mattn/go-sqlite3, one file per store, WAL, synchronous=FULL
//   - sqlite-purego: modernc.org/sqlite, same layout without cgo
//   - postgres: github.com/jackc/pgx/v5, one PostgreSQL schema per store
//
// File-backed SQLite stores hold an exclusive github.com/gofrs/flock lock on
// "<store>.lock" while open; bbolt locks its own file.
package substrate
