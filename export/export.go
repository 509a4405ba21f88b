// Package export writes the pattern bank as a Standard MIDI File.
package export

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"stepgrid/midi"
	"stepgrid/pattern"
)

const (
	PPQ          = 480
	TicksPerStep = PPQ / 4
)

var ErrNoPatterns = errors.New("export: no patterns to export")

// Input is everything the encoder needs. It is read only.
type Input struct {
	Patterns []*pattern.Pattern
	Tempo    float64
	Gate     pattern.GateUnit
	MacroCC  [2]uint8 // zero means 20 and 21
}

func (in Input) tempo() float64 {
	if in.Tempo <= 0 || math.IsNaN(in.Tempo) || math.IsInf(in.Tempo, 0) {
		return 120
	}
	return in.Tempo
}

// Kind orders events that share a tick.
type Kind int

const (
	CC Kind = iota
	NoteOn
	NoteOff
)

// Event is one channel message at an absolute tick.
type Event struct {
	Tick    uint32
	Kind    Kind
	Message gomidi.Message
}

// Sequence returns the patterns to export: the chain in order, or the active
// pattern when the chain is empty.
func Sequence(snap *pattern.Snapshot, chain []int, active int) []*pattern.Pattern {
	if len(chain) == 0 {
		if p := snap.Pattern(active); p != nil {
			return []*pattern.Pattern{p}
		}
		return nil
	}
	out := make([]*pattern.Pattern, 0, len(chain))
	for _, i := range chain {
		if p := snap.Pattern(i); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Events lays the patterns end to end, each taking all 16 slots, and returns
// the channel messages sorted by tick. Messages go to channel 0.
func Events(in Input) []Event {
	ccA, ccB := in.MacroCC[0], in.MacroCC[1]
	if ccA == 0 && ccB == 0 {
		ccA, ccB = midi.CCMacroA, midi.CCMacroB
	}
	bpm := in.tempo()

	var evs []Event
	for pi, p := range in.Patterns {
		for si := range p.Steps {
			st := &p.Steps[si]
			if !st.Active {
				continue
			}
			base := float64((pi*pattern.NumSteps + si) * TicksPerStep)
			if si%2 == 1 {
				base += TicksPerStep * float64(st.Swing) / 100 * 0.5
			}
			for _, n := range st.Notes {
				micro := float64(n.MicroTimingMs) * bpm * 8 / 1000
				on := max(0, int64(math.Round(base+micro)))
				off := on + int64(math.Round(in.Gate.Steps(n.Gate)*TicksPerStep))
				vel := n.Velocity
				if st.Accent {
					vel = pattern.AccentVelocity(vel)
				}
				evs = append(evs,
					Event{uint32(on), CC, gomidi.ControlChange(0, ccA, n.MacroA&0x7f)},
					Event{uint32(on), CC, gomidi.ControlChange(0, ccB, n.MacroB&0x7f)},
					Event{uint32(on), NoteOn, gomidi.NoteOn(0, n.Pitch&0x7f, vel&0x7f)},
					Event{uint32(off), NoteOff, gomidi.NoteOff(0, n.Pitch&0x7f)},
				)
			}
		}
	}
	slices.SortStableFunc(evs, func(a, b Event) int {
		return cmp.Or(cmp.Compare(a.Tick, b.Tick), cmp.Compare(a.Kind, b.Kind))
	})
	return evs
}

// Encode writes a format 0 file: the tempo at tick 0, the events, and
// End-of-Track one quarter note after the last event.
func Encode(w io.Writer, in Input) error {
	if len(in.Patterns) == 0 {
		return ErrNoPatterns
	}
	bpm := in.tempo()

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(bpm))
	var last uint32
	for _, ev := range Events(in) {
		tr.Add(ev.Tick-last, ev.Message)
		last = ev.Tick
	}
	tr.Close(PPQ)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(PPQ)
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("cannot add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("cannot write midi file: %w", err)
	}
	return nil
}

// Bytes is Encode into memory.
func Bytes(in Input) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName returns the conventional export name for day t.
func FileName(t time.Time) string {
	return "stepgrid16_" + t.Format("2006-01-02") + ".mid"
}

// WriteFile encodes in to path and returns the number of bytes written.
func WriteFile(path string, in Input) (int, error) {
	data, err := Bytes(in)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("cannot write %s: %w", path, err)
	}
	return len(data), nil
}
