package channel

import "time"

// Address locates a channel on its servo controller.
type Address struct {
	Controller string `json:"controller" yaml:"controller"`
	Index      int    `json:"index" yaml:"index"`
}

// Descriptor is the static description of one actuator channel.
// Descriptors are loaded once and never change while the core runs.
type Descriptor struct {
	Name       string  `json:"name" yaml:"name"`
	Controller string  `json:"controller" yaml:"controller"`
	Index      int     `json:"index" yaml:"index"`
	Min        float64 `json:"min" yaml:"min"`
	Max        float64 `json:"max" yaml:"max"`

	// Home is the position assumed at startup.
	Home float64 `json:"home" yaml:"home"`

	// Safe is the emergency stop pose. Defaults to Home.
	Safe *float64 `json:"safe,omitempty" yaml:"safe,omitempty"`
}

// Address returns the descriptor's hardware address.
func (d Descriptor) Address() Address {
	return Address{Controller: d.Controller, Index: d.Index}
}

// SafePosition returns Safe when set, otherwise Home.
func (d Descriptor) SafePosition() float64 {
	if d.Safe != nil {
		return *d.Safe
	}
	return d.Home
}

// Contains reports whether position lies inside [Min, Max].
func (d Descriptor) Contains(position float64) bool {
	return position >= d.Min && position <= d.Max
}

// Clamp limits position to [Min, Max].
func (d Descriptor) Clamp(position float64) float64 {
	return min(max(position, d.Min), d.Max)
}

// NearLimit reports whether position lies within margin (a fraction of
// the range) of either end.
func (d Descriptor) NearLimit(position, margin float64) bool {
	if margin <= 0 {
		return false
	}
	band := (d.Max - d.Min) * margin
	return position <= d.Min+band || position >= d.Max-band
}

// State is the runtime view of a channel: last written position and when.
type State struct {
	Name      string    `json:"name"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}
