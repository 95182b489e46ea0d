// Package storage persists task timer state.
//
// Every row carries a version. Writes name the version they were computed
// from and fail with ErrConflict when another writer got there first, which
// is how a periodic tick and a manual transition on the same task are
// serialized without holding locks across the computation.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local map, used by tests and `pomotick tick --dry-run`
package storage
