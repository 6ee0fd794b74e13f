// Package channel is the registry of actuator channels: named servo
// outputs with a hardware address, a safe range, and a home position.
//
// It is the only path from the control loop to the hardware. Writes are
// bounded by a per-attempt timeout and retried once before failing with
// ErrHardwareWriteFailure.
package channel
