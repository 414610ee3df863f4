// Package store provides durable storage for integrity records.
//
// Two tables back every substrate:
//   - records: the current committed state per incident, one row each
//   - journal: every committed notification in commit order, carrying the
//     chain link (event hash, head, count) so the head can be re-derived
//
// # Substrates
//
//   - Store: SQLite with WAL mode (mattn/go-sqlite3)
//   - PostgresStore: PostgreSQL (lib/pq), row locks via SELECT ... FOR UPDATE
//   - Memory: in-process, for tests and scenario runs
//
// All three implement engine.Substrate (Load, Create, Update) and
// notify.Sink (the journal).
//
// # Critical Patterns
//
// Atomic read-modify-write:
//   - Update runs load, mutate and write in one transaction
//   - a mutate error rolls back; the stored row is untouched
//
// Deterministic journal order:
//   - journal queries ORDER BY seq ASC; seq is assigned at insert
//
// Digests and identities are stored as lowercase hex TEXT. Times are Unix
// seconds (records carry second precision).
package store
