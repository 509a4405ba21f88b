// Package pattern holds the pattern bank: 8 patterns of 16 steps, each step
// carrying a stack of notes.
package pattern

import (
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
)

const (
	NumPatterns = 8
	NumSteps    = 16
	MaxNotes    = 8
)

// Default values for freshly created notes.
const (
	DefaultPitch    = 60
	DefaultVelocity = 100
	DefaultGate     = 50
	DefaultMacro    = 64
)

// Note is one sounding event within a step.
type Note struct {
	Pitch         uint8 `json:"pitch" yaml:"pitch"`
	Velocity      uint8 `json:"velocity" yaml:"velocity"`
	Gate          int   `json:"gate" yaml:"gate"` // unit given by GateUnit
	MicroTimingMs int   `json:"microTimingMs" yaml:"microTimingMs"`
	MacroA        uint8 `json:"macroA" yaml:"macroA"`
	MacroB        uint8 `json:"macroB" yaml:"macroB"`
}

// DefaultNote returns the note every new step starts with.
func DefaultNote() Note {
	return Note{
		Pitch:    DefaultPitch,
		Velocity: DefaultVelocity,
		Gate:     DefaultGate,
		MacroA:   DefaultMacro,
		MacroB:   DefaultMacro,
	}
}

// AccentVelocity is the velocity a note plays at on an accented step.
func AccentVelocity(v uint8) uint8 {
	return uint8(min(127, math.Round(float64(v)*1.5)))
}

// Step is one grid slot. Notes play in stack order; an inactive step is
// silent whatever its notes say.
type Step struct {
	ID     string `json:"id" yaml:"id"`
	Active bool   `json:"active" yaml:"active"`
	Notes  []Note `json:"notes" yaml:"notes"`
	Swing  int    `json:"swing" yaml:"swing"` // percent, applied on odd steps
	Accent bool   `json:"accent" yaml:"accent"`
}

func newStep() Step {
	return Step{
		ID:    uuid.NewString(),
		Notes: []Note{DefaultNote()},
	}
}

// Pattern is a fixed 16-slot step array. Slots at or beyond Length are kept
// but never played.
type Pattern struct {
	ID     int            `json:"id" yaml:"id"`
	Name   string         `json:"name" yaml:"name"`
	Length int            `json:"length" yaml:"length"`
	Steps  [NumSteps]Step `json:"steps" yaml:"steps"`
}

// New returns pattern idx with inert defaults.
func New(idx int) *Pattern {
	p := &Pattern{
		ID:     idx,
		Name:   fmt.Sprintf("Pattern %d", idx+1),
		Length: NumSteps,
	}
	for i := range p.Steps {
		p.Steps[i] = newStep()
	}
	return p
}

// Step returns the step at i, wrapping i into the pattern's length.
func (p *Pattern) Step(i int) *Step {
	return &p.Steps[Wrap(i, p.Length)]
}

// ActiveCount returns how many steps within Length are active.
func (p *Pattern) ActiveCount() int {
	n := 0
	for i := 0; i < p.Length; i++ {
		if p.Steps[i].Active {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Pattern) Clone() *Pattern {
	c := *p
	for i := range c.Steps {
		c.Steps[i].Notes = slices.Clone(p.Steps[i].Notes)
	}
	return &c
}

// Wrap maps a cursor into [0, length). Lengths outside 1..16 are treated as
// the nearest valid length.
func Wrap(i, length int) int {
	length = ClampLength(length)
	i %= length
	if i < 0 {
		i += length
	}
	return i
}

// ClampLength clamps a pattern length to 1..16.
func ClampLength(n int) int {
	return clamp(n, 1, NumSteps)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
