// Package storage persists posts and the operator audit log.
//
// Drivers:
//   - memory: process-local, lost on exit (tests, dry runs)
//   - file: snapshot + append-only journal, no external dependencies
//   - sqlite: single database file (modernc.org/sqlite, no cgo)
//   - postgres: shared database (github.com/lib/pq)
//
// Every driver hands out deep copies; callers never share memory with the
// canonical record.
package storage
