// Package history persists execution outcomes and safety incidents to
// SQLite so operators can review what the figure did after the fact.
//
// Recorder consumes engine events on a buffered channel and writes them
// from its own goroutine; the control loop never waits on the database.
package history
