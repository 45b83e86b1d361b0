// Package model defines shared data types used across roomsync.
//
// All types mirror the relay database schema (room_updates, room_snapshots).
//
// Conventions:
//   - Update payloads: opaque encoded bytes, never inspected or merged
//   - Sequence numbers: int64, per-room, assigned by the relay hub
//   - IDs: string for room names, uuid.UUID for update origins
package model
