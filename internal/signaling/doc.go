// Package signaling exposes the hub over HTTP: JSON endpoints for reading and
// mutating a session record, and a WebSocket that pushes committed snapshots
// of one record to browser clients.
package signaling
