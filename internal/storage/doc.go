// Package storage provides durable implementations of the session
// Persister port.
//
// Both backends model the same thing: a single shared slot holding the
// full serialized session collection. Every save is a complete
// read-modify-write of that slot; there are no partial writes and no
// transactional guarantees beyond "last full write wins".
//
//   - [FileStore] keeps the snapshot as a JSON file, written atomically
//     (temp file + rename) under an advisory file lock.
//   - [SQLiteStore] keeps the snapshot in a single-row SQLite table,
//     for installations that prefer one database file over loose JSON.
package storage
