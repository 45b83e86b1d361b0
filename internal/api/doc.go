// Package api provides a client for the relay's HTTP endpoints.
//
// Endpoints:
//   - GET /healthz: liveness plus room and client counts
//   - GET /v1/rooms: active rooms with replay log stats
//   - GET /v1/rooms/{room}: one active room
//
// The room endpoints require the relay's bearer token when auth is
// enabled.
package api
