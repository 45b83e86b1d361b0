// Package collab implements the connection manager for live room
// sessions.
//
// The package provides:
//   - Session: exclusive ownership of one transport handle and one
//     shared document, bound to a single room
//   - Manager: holds at most one active session, aggregates transport
//     events into a small status, and trips a per-room circuit breaker
//     when abnormal closures pile up
//   - Binder: reconciles the manager against a desired binding the way
//     a mounted view would, creating and tearing down sessions as the
//     room comes and goes
//
// All event handling and every manager API call run under one mutex,
// so handlers never observe each other mid-transition.
package collab
