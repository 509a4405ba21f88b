package pattern

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfRange is returned when a target names a pattern, step or note that
// does not exist.
var ErrOutOfRange = errors.New("pattern: index out of range")

// Field is the tag of a parameter target.
type Field int

const (
	Pitch Field = iota
	Velocity
	Gate
	MicroTiming
	MacroA
	MacroB
	Swing
	Accent
)

// MicroTiming bounds in milliseconds.
const (
	MinMicroTimingMs = -50
	MaxMicroTimingMs = 50
)

var fieldNames = [...]string{
	Pitch:       "pitch",
	Velocity:    "velocity",
	Gate:        "gate",
	MicroTiming: "microtiming",
	MacroA:      "macroA",
	MacroB:      "macroB",
	Swing:       "swing",
	Accent:      "accent",
}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// ParseField looks a field up by name, ignoring case.
func ParseField(name string) (Field, error) {
	for i, n := range fieldNames {
		if strings.EqualFold(n, name) {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// OnNote reports whether the field lives on a note rather than on the step.
func (f Field) OnNote() bool {
	return f <= MacroB
}

// Range returns the accepted value range for the field under a gate unit.
func (f Field) Range(unit GateUnit) (lo, hi int) {
	switch f {
	case Gate:
		return unit.Range()
	case MicroTiming:
		return MinMicroTimingMs, MaxMicroTimingMs
	case Swing:
		return 0, 100
	case Accent:
		return 0, 1
	}
	return 0, 127
}

// Target addresses one editable parameter. Note is ignored for step fields.
type Target struct {
	Pattern int
	Step    int
	Note    int
	Field   Field
}

// NoteTarget addresses a field of note n in step s of pattern p.
func NoteTarget(p, s, n int, f Field) Target {
	return Target{Pattern: p, Step: s, Note: n, Field: f}
}

// StepTarget addresses a step-level field (swing, accent).
func StepTarget(p, s int, f Field) Target {
	return Target{Pattern: p, Step: s, Field: f}
}

func (t Target) String() string {
	if t.Field.OnNote() {
		return fmt.Sprintf("p%d/s%d/n%d.%s", t.Pattern, t.Step, t.Note, t.Field)
	}
	return fmt.Sprintf("p%d/s%d.%s", t.Pattern, t.Step, t.Field)
}

func (t Target) check() error {
	if t.Pattern < 0 || t.Pattern >= NumPatterns || t.Step < 0 || t.Step >= NumSteps {
		return fmt.Errorf("%w: %s", ErrOutOfRange, t)
	}
	if t.Field < 0 || int(t.Field) >= len(fieldNames) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, t)
	}
	return nil
}

// apply writes v (already clamped) into the pattern.
func (t Target) apply(p *Pattern, v int) error {
	st := &p.Steps[t.Step]
	switch t.Field {
	case Swing:
		st.Swing = v
		return nil
	case Accent:
		st.Accent = v != 0
		return nil
	}
	if t.Note < 0 || t.Note >= len(st.Notes) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, t)
	}
	n := &st.Notes[t.Note]
	switch t.Field {
	case Pitch:
		n.Pitch = uint8(v)
	case Velocity:
		n.Velocity = uint8(v)
	case Gate:
		n.Gate = v
	case MicroTiming:
		n.MicroTimingMs = v
	case MacroA:
		n.MacroA = uint8(v)
	case MacroB:
		n.MacroB = uint8(v)
	}
	return nil
}

// Get reads the value a target points at.
func (t Target) Get(p *Pattern) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	st := &p.Steps[t.Step]
	switch t.Field {
	case Swing:
		return st.Swing, nil
	case Accent:
		if st.Accent {
			return 1, nil
		}
		return 0, nil
	}
	if t.Note < 0 || t.Note >= len(st.Notes) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, t)
	}
	n := st.Notes[t.Note]
	switch t.Field {
	case Pitch:
		return int(n.Pitch), nil
	case Velocity:
		return int(n.Velocity), nil
	case Gate:
		return n.Gate, nil
	case MicroTiming:
		return n.MicroTimingMs, nil
	case MacroA:
		return int(n.MacroA), nil
	}
	return int(n.MacroB), nil
}
