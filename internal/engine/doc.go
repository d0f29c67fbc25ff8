// Package engine implements the versioned multi-table storage engine.
//
// A DB is one named store opened at one schema version. Tables, records and
// secondary indexes are laid out on an opaque substrate.KV:
//
//	_meta                  "version" → decimal schema version
//	                       "schema"  → canonical JSON of table → spec
//	t/<table>              enc(primary key) → record JSON
//	i/<table>/<index>      enc(index value) ++ enc(primary key) → enc(primary key)
//
// enc is record.EncodeKey, so byte order in every bucket equals key order and
// index scans for one value come back ordered by primary key.
//
// Opening a store older than the requested version applies every declared
// version in between inside a single substrate write transaction. Tables
// and indexes are only ever added.
//
// Query results are lazy iter.Seq2 sequences. Each page is read in its own
// read transaction, so no transaction stays open while callers consume
// results, and ranging over a sequence again re-runs the query.
package engine
