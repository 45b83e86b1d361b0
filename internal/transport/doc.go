// Package transport implements the sync provider for room connections.
//
// The provider:
//   - Opens one websocket per room bound to one document
//   - Retries dropped connections with exponential backoff
//   - Applies incoming binary frames to the document and forwards
//     locally submitted updates to the relay
//   - Reports its lifecycle as an ordered event stream
//
// The connection manager consumes handles through the Opener and Handle
// interfaces and never touches the websocket directly.
package transport
