package channel

import "context"

// Hardware is the servo controller boundary. Write must honour ctx's
// deadline; the registry gives every attempt its own timeout.
type Hardware interface {
	Write(ctx context.Context, addr Address, position float64) error
}

// HardwareFunc adapts a function to Hardware.
type HardwareFunc func(ctx context.Context, addr Address, position float64) error

// Write calls f.
func (f HardwareFunc) Write(ctx context.Context, addr Address, position float64) error {
	return f(ctx, addr, position)
}

// Discard accepts every write. Used when no controller bridge is
// configured (dry run).
var Discard Hardware = HardwareFunc(func(context.Context, Address, float64) error { return nil })
