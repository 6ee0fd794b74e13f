package safety

import (
	"fmt"
	"strings"
	"time"
)

// State is the system-wide safety state.
type State int

const (
	Normal State = iota
	Warning
	EmergencyStop
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Warning:
		return "WARNING"
	case EmergencyStop:
		return "EMERGENCY_STOP"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "NORMAL":
		*s = Normal
	case "WARNING":
		*s = Warning
	case "EMERGENCY_STOP":
		*s = EmergencyStop
	default:
		return fmt.Errorf("safety: unknown state %q", text)
	}
	return nil
}

// Severity classifies a violation.
type Severity int

const (
	// Soft violations degrade NORMAL to WARNING and clear on their own.
	Soft Severity = iota
	// Hard violations force EMERGENCY_STOP.
	Hard
)

func (s Severity) String() string {
	if s == Hard {
		return "hard"
	}
	return "soft"
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes "soft" or "hard".
func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "soft":
		*s = Soft
	case "hard":
		*s = Hard
	default:
		return fmt.Errorf("safety: unknown severity %q", text)
	}
	return nil
}

// Metric names used by the motion core.
const (
	MetricPositionClamped  = "position_clamped"
	MetricPositionNearEdge = "position_near_limit"
	MetricTickOverrun      = "tick_overrun"
	MetricWriteLatency     = "write_latency"

	MetricOutOfRangeWrite   = "out_of_range_write"
	MetricHardwareWrite     = "hardware_write"
	MetricWatchdog          = "watchdog"
	MetricControllerOffline = "controller_offline"
	MetricExternalStop      = "external_stop"
)

// Violation is one active threshold breach.
type Violation struct {
	Metric    string    `json:"metric"`
	Channel   string    `json:"channel,omitempty"`
	Severity  Severity  `json:"severity"`
	Threshold float64   `json:"threshold"`
	Observed  float64   `json:"observed"`
	At        time.Time `json:"at"`
}

// Key identifies a violation; the same metric can be active on several
// channels at once.
func (v Violation) Key() string {
	if v.Channel == "" {
		return v.Metric
	}
	return v.Metric + "/" + v.Channel
}

// Observation is a single input to Evaluate. Active=true raises (or
// refreshes) the violation identified by Metric and Channel; Active=false
// clears it.
type Observation struct {
	Metric    string
	Channel   string
	Severity  Severity
	Value     float64
	Threshold float64
	Active    bool
	At        time.Time
}

func (o Observation) key() string {
	return Violation{Metric: o.Metric, Channel: o.Channel}.Key()
}

// Status is a read-only copy of the monitor's state.
type Status struct {
	State      State       `json:"state"`
	Violations []Violation `json:"violations"`

	// Latched is true while an emergency stop waits for Reset.
	Latched bool `json:"latched"`

	// Since is when the current state was entered.
	Since time.Time `json:"since"`
}

// Transition describes one state change.
type Transition struct {
	From       State       `json:"from"`
	To         State       `json:"to"`
	Reason     string      `json:"reason"`
	Violations []Violation `json:"violations"`
	At         time.Time   `json:"at"`
}
