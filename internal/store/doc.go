// Package store persists room update logs and snapshots in PostgreSQL.
//
// Components:
//   - UpdateQueue: growable ring buffer between the relay and the writer
//   - Postgres: update log and snapshot queries over a pgx pool
//   - Writer: batched background inserts, idempotent across replays
//   - Compactor: folds long update logs into snapshots and trims the log
//
// The update log is append-only. Rows are removed only by the compactor,
// and only after the covering snapshot has been written.
package store
