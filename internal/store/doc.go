// Package store persists the reminder registry and the append-only send
// attempt log so dedup history survives process restarts.
//
// Drivers:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local maps, used by tests and throwaway setups
package store
