// Package breaker implements failure bookkeeping for room connections.
//
// The tracker:
//   - Counts consecutive connection failures per room
//   - Forgets a streak once failures stop for longer than the decay window
//   - Reports a room disabled when the streak reaches the configured maximum
//
// The tracker only counts. Deciding when to record, trip, or clear is the
// connection manager's job.
package breaker
