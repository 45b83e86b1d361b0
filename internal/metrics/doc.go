// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Client connections and active rooms
//   - Update ingest and fan-out rates
//   - Writer batch sizes and flush outcomes
//   - Queue utilization and drops
//   - Compaction throughput
package metrics
