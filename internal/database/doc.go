// Package database provides the PostgreSQL connection pool for the
// relay's durable state.
//
// One database holds everything:
//   - room_updates: the append-only per-room update log
//   - room_snapshots: compacted snapshots that bound replay cost
package database
