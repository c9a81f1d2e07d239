// Package storage remembers the destination chat discovered for a bot so a
// restart does not depend on getUpdates still returning a recent message.
//
// Backends:
//   - file: one JSON snapshot, replaced atomically on every write
//   - sqlite: a single table in a SQLite database (modernc.org/sqlite, no cgo)
//
// Entries are keyed by TokenKey(token), never by the raw token.
package storage
