package pattern

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable view of the whole bank. Patterns reached through
// a snapshot must not be modified.
type Snapshot struct {
	patterns [NumPatterns]*Pattern
	version  uint64
}

// Pattern returns pattern i, or nil if i is out of range.
func (s *Snapshot) Pattern(i int) *Pattern {
	if i < 0 || i >= NumPatterns {
		return nil
	}
	return s.patterns[i]
}

// Patterns returns the patterns in bank order.
func (s *Snapshot) Patterns() []*Pattern {
	out := make([]*Pattern, NumPatterns)
	copy(out, s.patterns[:])
	return out
}

// Version increases by one with every mutation.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Store owns the pattern bank. Every mutation copies the touched pattern and
// publishes a new Snapshot; readers holding an older snapshot are unaffected.
type Store struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[Snapshot]

	gate      GateUnit
	scale     Scale
	scaleLock bool

	onChange func(*Snapshot)
}

// Option configures a Store.
type Option func(*Store)

// WithGateUnit sets how gate values are clamped.
func WithGateUnit(u GateUnit) Option {
	return func(s *Store) { s.gate = u }
}

// WithScaleLock snaps every pitch edit into sc.
func WithScaleLock(sc Scale) Option {
	return func(s *Store) {
		s.scale = sc
		s.scaleLock = true
	}
}

// NewStore creates a bank of default patterns.
func NewStore(opts ...Option) *Store {
	s := &Store{scale: Chromatic()}
	for _, o := range opts {
		o(s)
	}
	snap := &Snapshot{}
	for i := range snap.patterns {
		snap.patterns[i] = s.fresh(i)
	}
	s.snap.Store(snap)
	return s
}

// Snapshot returns the current bank. Safe from any goroutine.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// GateUnit returns the store's gate unit.
func (s *Store) GateUnit() GateUnit {
	return s.gate
}

// Scale returns the configured scale and whether pitch edits are locked to it.
func (s *Store) Scale() (Scale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale, s.scaleLock
}

// SetScale changes the scale. Existing notes are left alone.
func (s *Store) SetScale(sc Scale, lock bool) {
	s.mu.Lock()
	s.scale, s.scaleLock = sc, lock
	s.mu.Unlock()
}

// OnChange registers fn to be called with every new snapshot. Called with
// the writer lock held; fn must not mutate the store.
func (s *Store) OnChange(fn func(*Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) update(p int, fn func(*Pattern) error) error {
	if p < 0 || p >= NumPatterns {
		return fmt.Errorf("%w: pattern %d", ErrOutOfRange, p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snap.Load()
	c := old.patterns[p].Clone()
	if err := fn(c); err != nil {
		return err
	}
	next := &Snapshot{patterns: old.patterns, version: old.version + 1}
	next.patterns[p] = c
	s.snap.Store(next)
	if s.onChange != nil {
		s.onChange(next)
	}
	return nil
}

func (s *Store) updateStep(p, st int, fn func(*Step) error) error {
	if st < 0 || st >= NumSteps {
		return fmt.Errorf("%w: step %d", ErrOutOfRange, st)
	}
	return s.update(p, func(pat *Pattern) error {
		return fn(&pat.Steps[st])
	})
}

// Toggle flips a step's active flag.
func (s *Store) Toggle(p, st int) error {
	return s.updateStep(p, st, func(step *Step) error {
		step.Active = !step.Active
		return nil
	})
}

// SetActive sets a step's active flag.
func (s *Store) SetActive(p, st int, active bool) error {
	return s.updateStep(p, st, func(step *Step) error {
		step.Active = active
		return nil
	})
}

// SetLength sets the pattern's effective length, clamped to 1..16.
func (s *Store) SetLength(p, n int) error {
	return s.update(p, func(pat *Pattern) error {
		pat.Length = ClampLength(n)
		return nil
	})
}

// Set writes value to the target, clamping it into the field's range.
func (s *Store) Set(t Target, value int) error {
	if err := t.check(); err != nil {
		return err
	}
	lo, hi := t.Field.Range(s.gate)
	value = clamp(value, lo, hi)
	return s.update(t.Pattern, func(pat *Pattern) error {
		if t.Field == Pitch && s.scaleLock {
			value = s.scale.Snap(value)
		}
		return t.apply(pat, value)
	})
}

// Nudge adds delta to the target's current value. Under scale lock a pitch
// nudge always lands on a different in-scale pitch when one exists.
func (s *Store) Nudge(t Target, delta int) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, err := t.Get(s.Snapshot().Pattern(t.Pattern))
	if err != nil {
		return err
	}
	next := cur + delta
	if sc, lock := s.Scale(); lock && t.Field == Pitch && delta > 0 {
		// Snap rounds down; step up to the next in-scale pitch instead.
		for next < 127 && !sc.Contains(next) {
			next++
		}
	}
	return s.Set(t, next)
}

// AddNote pushes n onto the step's note stack.
func (s *Store) AddNote(p, st int, n Note) error {
	return s.updateStep(p, st, func(step *Step) error {
		n = s.normalize(n)
		if len(step.Notes) >= MaxNotes {
			return fmt.Errorf("%w: step %d already has %d notes", ErrOutOfRange, st, MaxNotes)
		}
		step.Notes = append(step.Notes, n)
		return nil
	})
}

// RemoveNote removes note i. The last note of a step is never removed.
func (s *Store) RemoveNote(p, st, i int) error {
	return s.updateStep(p, st, func(step *Step) error {
		if i < 0 || i >= len(step.Notes) || len(step.Notes) == 1 {
			return fmt.Errorf("%w: note %d", ErrOutOfRange, i)
		}
		step.Notes = append(step.Notes[:i], step.Notes[i+1:]...)
		return nil
	})
}

// ResetStep restores a step to its defaults, keeping its id.
func (s *Store) ResetStep(p, st int) error {
	return s.updateStep(p, st, func(step *Step) error {
		id := step.ID
		*step = s.freshStep()
		step.ID = id
		return nil
	})
}

// ResetPattern restores a pattern to its defaults.
func (s *Store) ResetPattern(p int) error {
	return s.update(p, func(pat *Pattern) error {
		*pat = *s.fresh(p)
		return nil
	})
}

// Rename sets the pattern's display name.
func (s *Store) Rename(p int, name string) error {
	return s.update(p, func(pat *Pattern) error {
		pat.Name = name
		return nil
	})
}

// CopyPattern copies the steps and length of src over dst.
func (s *Store) CopyPattern(src, dst int) error {
	from := s.Snapshot().Pattern(src)
	if from == nil {
		return fmt.Errorf("%w: pattern %d", ErrOutOfRange, src)
	}
	return s.update(dst, func(pat *Pattern) error {
		c := from.Clone()
		pat.Length = c.Length
		pat.Steps = c.Steps
		return nil
	})
}

// Replace loads a whole bank. Missing patterns keep their current content.
// A zero gate is unset and takes the store's unit default.
func (s *Store) Replace(bank []*Pattern) error {
	if len(bank) > NumPatterns {
		return fmt.Errorf("%w: %d patterns", ErrOutOfRange, len(bank))
	}
	for i, src := range bank {
		if src == nil {
			continue
		}
		c := src.Clone()
		c.ID = i
		c.Length = ClampLength(c.Length)
		if err := s.update(i, func(pat *Pattern) error {
			for j := range c.Steps {
				for k := range c.Steps[j].Notes {
					if c.Steps[j].Notes[k].Gate == 0 {
						c.Steps[j].Notes[k].Gate = s.gate.Default()
					}
				}
				c.Steps[j] = s.normalizeStep(c.Steps[j])
			}
			*pat = *c
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) fresh(idx int) *Pattern {
	p := New(idx)
	for i := range p.Steps {
		p.Steps[i].Notes[0].Gate = s.gate.Default()
	}
	return p
}

func (s *Store) freshStep() Step {
	st := newStep()
	st.Notes[0].Gate = s.gate.Default()
	return st
}

// normalizeStep and normalize run with the writer lock held.
func (s *Store) normalizeStep(st Step) Step {
	if st.ID == "" {
		st.ID = newStep().ID
	}
	if len(st.Notes) == 0 {
		st.Notes = s.freshStep().Notes
	}
	if len(st.Notes) > MaxNotes {
		st.Notes = st.Notes[:MaxNotes]
	}
	for i := range st.Notes {
		st.Notes[i] = s.normalize(st.Notes[i])
	}
	st.Swing = clamp(st.Swing, 0, 100)
	return st
}

func (s *Store) normalize(n Note) Note {
	n.Pitch = uint8(clamp(int(n.Pitch), 0, 127))
	n.Velocity = uint8(clamp(int(n.Velocity), 0, 127))
	n.MacroA = uint8(clamp(int(n.MacroA), 0, 127))
	n.MacroB = uint8(clamp(int(n.MacroB), 0, 127))
	lo, hi := s.gate.Range()
	n.Gate = clamp(n.Gate, lo, hi)
	n.MicroTimingMs = clamp(n.MicroTimingMs, MinMicroTimingMs, MaxMicroTimingMs)
	if s.scaleLock {
		n.Pitch = uint8(s.scale.Snap(int(n.Pitch)))
	}
	return n
}
