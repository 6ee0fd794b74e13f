// Package api implements the HTTP REST API and WebSocket server for the
// Gray Motion core.
//
// This package provides:
//   - REST endpoints for status, the sequence catalog, motion commands,
//     emergency stop and reset, and recorded history
//   - WebSocket sessions bound to the broadcast hub, carrying status,
//     events and alerts, and accepting observer commands
//   - JWT authentication with role permissions and ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The server is a thin layer over the motion engine. Every command is a
// request on the engine's control loop; rejections are reported with the
// machine-readable code from motion.Reason and, for busy channels, the
// current owner.
//
// # Security
//
// Operators log in with credentials from the security.operators config
// section. Viewers may read; operators may move, stop and reset; admins
// may also prune history. WebSocket connections use single-use tickets to
// keep tokens out of URLs.
//
// # Audit
//
// Logins, emergency stops, resets, executions, cancellations and history
// pruning are written to the audit trail with the operator's name, whether
// they arrive over REST or as WebSocket commands.
//
// # Graceful Degradation
//
// History and audit endpoints return 503 when the database is disabled.
// Everything else works without it.
package api
