// Package crdt implements the opaque collaborative document.
//
// A document is an ordered log of encoded updates:
//   - Update payloads are opaque bytes, never inspected or merged
//   - Applying means appending; convergence is the editor layer's concern
//   - Snapshots pack a log into one container for storage and initial sync
//
// The container format is shared by the client, the relay, and the store.
package crdt
