// Package relay implements the WebSocket sync endpoint and room fan-out.
//
// Components:
//   - Server: HTTP surface (sync endpoint, health, room listing)
//   - Hub: room registry, idle eviction, and update routing
//   - Room: membership, sequence assignment, and replay
//   - Client: one WebSocket connection with read and write pumps
//   - Bridge: Redis pub/sub fan-out between relay instances
//
// A client joins a room over /v1/sync, receives every update after its
// resume offset followed by a synced control frame, and from then on
// gets live updates as binary frames.
package relay
