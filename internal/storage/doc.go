// Package storage persists calendar events keyed by (name, scheduled time).
//
// Drivers:
//   - "memory": process-local map, used by tests and dry runs
//   - "file": JSON snapshot plus an append-only JSON Lines journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via pgx
//   - "redis": one JSON value per event plus a sorted set indexed by time
//
// Every driver is safe for concurrent use: the command handler reads while
// the poll cycle writes.
package storage
