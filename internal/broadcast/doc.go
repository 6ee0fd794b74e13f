// Package broadcast publishes the motion core's state to observers.
//
// A Hub carries three topics:
//
//   - status: the engine snapshot, at a fixed rate, coalesced per session
//   - events: execution and safety events, in order, never dropped
//   - alerts: metric alerts from external monitors, throttled per metric
//
// Sessions are transport-agnostic; the API package binds them to
// websocket connections. A session that cannot keep up is closed rather
// than skipped. Safety transitions reach every session, and are held for
// the next session when none is connected.
package broadcast
