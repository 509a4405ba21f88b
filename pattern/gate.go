package pattern

import (
	"fmt"
	"time"
)

// GateUnit says how Note.Gate is read.
type GateUnit int

const (
	// GatePercent reads the gate as 1..100 percent of one step.
	GatePercent GateUnit = iota
	// GateSteps reads the gate as 1..16 whole steps.
	GateSteps
)

func (u GateUnit) String() string {
	if u == GateSteps {
		return "steps"
	}
	return "percent"
}

// ParseGateUnit accepts "percent" or "steps". Empty means percent.
func ParseGateUnit(s string) (GateUnit, error) {
	switch s {
	case "", "percent", "%":
		return GatePercent, nil
	case "steps", "step":
		return GateSteps, nil
	}
	return GatePercent, fmt.Errorf("unknown gate unit %q", s)
}

// Range returns the valid gate values for the unit.
func (u GateUnit) Range() (lo, hi int) {
	if u == GateSteps {
		return 1, NumSteps
	}
	return 1, 100
}

// Default returns the gate new notes get: half a step, or one whole step.
func (u GateUnit) Default() int {
	if u == GateSteps {
		return 1
	}
	return DefaultGate
}

// Steps converts a gate value to a length in steps.
func (u GateUnit) Steps(gate int) float64 {
	lo, hi := u.Range()
	gate = clamp(gate, lo, hi)
	if u == GateSteps {
		return float64(gate)
	}
	return float64(gate) / 100
}

// Duration converts a gate value to wall time for the given step duration.
func (u GateUnit) Duration(gate int, step time.Duration) time.Duration {
	return time.Duration(u.Steps(gate) * float64(step))
}
