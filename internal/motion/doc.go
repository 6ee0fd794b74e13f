// Package motion implements the execution engine: the single-writer
// control loop that admits motion commands and sequences, arbitrates
// them by priority, interpolates channel positions at a fixed tick and
// writes them through the channel registry under the safety monitor.
//
// Every mutation of channel state, safety state and channel ownership
// happens on the loop goroutine started by Run. Other goroutines submit
// requests (Submit, Execute, Cancel, EmergencyStop, Reset, Observe) that
// are queued to the loop, and read state through Snapshot, which returns
// the latest immutable copy.
//
// Tick order:
//
//	watchdog → (EMERGENCY_STOP: hold, publish) → interpolate + safety check
//	→ hardware writes → cues → completion → publish
//
// A sequence that loses any of its channels to a higher priority request
// is cancelled as a whole; it never continues on the channels it kept.
// Manual commands run as a one-step sequence built at admission, so there
// is a single execution path.
package motion
