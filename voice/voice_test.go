package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgrid/midi/miditest"
	"stepgrid/timeline"
)

func setup(opts ...Option) (*Manager, *timeline.Timeline, *miditest.Recorder) {
	tl := timeline.New(&timeline.Manual{})
	rec := &miditest.Recorder{Now: tl.Now}
	return New(tl, rec, opts...), tl, rec
}

func note(pitch uint8, gate time.Duration) Note {
	return Note{Pitch: pitch, Velocity: 100, Gate: gate, MacroA: 10, MacroB: 20}
}

func TestTriggerSendsMacrosThenNoteOn(t *testing.T) {
	m, tl, rec := setup(WithRoute(Route{Output: "Synth", Channel: 3}))
	m.Trigger(note(60, 50*time.Millisecond))

	msgs := rec.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, miditest.Message{Output: "Synth", Kind: miditest.CC, Channel: 3, Data1: 20, Data2: 10}, msgs[0])
	assert.Equal(t, miditest.Message{Output: "Synth", Kind: miditest.CC, Channel: 3, Data1: 21, Data2: 20}, msgs[1])
	assert.Equal(t, miditest.Message{Output: "Synth", Kind: miditest.NoteOn, Channel: 3, Data1: 60, Data2: 100}, msgs[2])

	tl.Advance(49 * time.Millisecond)
	assert.Empty(t, rec.Only(miditest.NoteOff))
	tl.Advance(time.Millisecond)
	offs := rec.Only(miditest.NoteOff)
	require.Len(t, offs, 1)
	assert.Equal(t, 50*time.Millisecond, offs[0].At)
	assert.Equal(t, 0, m.Active())
}

func TestCustomMacroCCs(t *testing.T) {
	m, _, rec := setup(WithMacroCCs(74, 71))
	m.Trigger(note(60, time.Millisecond))
	ccs := rec.Only(miditest.CC)
	assert.Equal(t, uint8(74), ccs[0].Data1)
	assert.Equal(t, uint8(71), ccs[1].Data1)
}

func TestPolyVoicesAreIndependent(t *testing.T) {
	m, tl, rec := setup()
	m.Trigger(note(60, 100*time.Millisecond))
	tl.Advance(10 * time.Millisecond)
	m.Trigger(note(64, 20*time.Millisecond))
	assert.Equal(t, 2, m.Active())

	tl.Advance(25 * time.Millisecond)
	offs := rec.Only(miditest.NoteOff)
	require.Len(t, offs, 1)
	assert.Equal(t, uint8(64), offs[0].Data1)

	tl.Advance(time.Second)
	assert.Empty(t, rec.Balance())
	trig, rel := m.Stats()
	assert.Equal(t, trig, rel)
}

func TestMonoReleasesBeforeNextNoteOn(t *testing.T) {
	m, tl, rec := setup(WithPolicy(Mono))
	m.Trigger(note(60, 100*time.Millisecond))
	tl.Advance(30 * time.Millisecond)
	m.Trigger(note(60, 100*time.Millisecond)) // identical pitch still never overlaps

	var kinds []miditest.Kind
	for _, msg := range rec.Messages() {
		if msg.Kind != miditest.CC {
			kinds = append(kinds, msg.Kind)
		}
	}
	assert.Equal(t, []miditest.Kind{miditest.NoteOn, miditest.NoteOff, miditest.NoteOn}, kinds)
	assert.Equal(t, 1, m.Active())

	// the replaced voice's own timer must not fire a second Note-Off
	tl.Advance(80 * time.Millisecond)
	assert.Len(t, rec.Only(miditest.NoteOff), 1)
	tl.Advance(50 * time.Millisecond)
	assert.Len(t, rec.Only(miditest.NoteOff), 2)
	assert.Empty(t, rec.Balance())
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, tl, rec := setup()
	id := m.Trigger(note(60, 50*time.Millisecond))

	assert.True(t, m.Release(id, Gate))
	assert.False(t, m.Release(id, Gate))
	assert.False(t, m.Release(ID(999), Gate))
	tl.Advance(time.Second)

	assert.Len(t, rec.Only(miditest.NoteOff), 1)
	assert.Equal(t, 0, tl.Pending())
}

func TestPanicReleasesEverythingOnce(t *testing.T) {
	m, tl, rec := setup(WithRoute(Route{Output: "A", Channel: 1}))
	m.Trigger(note(60, time.Second))
	m.SetRoute(Route{Output: "A", Channel: 2})
	m.Trigger(note(62, time.Second))
	m.Trigger(note(64, time.Second))

	rec.Reset()
	m.Panic()

	offs := rec.Only(miditest.NoteOff)
	require.Len(t, offs, 3)
	assert.Equal(t, 1, offs[0].Channel, "note-off follows the voice's own route")
	alloff := rec.Only(miditest.AllOff)
	require.Len(t, alloff, 2)
	assert.Equal(t, 1, alloff[0].Channel)
	assert.Equal(t, 2, alloff[1].Channel)
	assert.Equal(t, 0, m.Active())

	// no gate timer survives the panic
	assert.Equal(t, 0, tl.Pending())

	rec.Reset()
	m.Panic()
	assert.Empty(t, rec.Messages())
}

func TestFirstPanicAlwaysSilencesDevice(t *testing.T) {
	m, _, rec := setup()
	m.Panic()
	assert.Len(t, rec.Only(miditest.AllOff), 1)
	m.Panic()
	assert.Len(t, rec.Only(miditest.AllOff), 1)
}

func TestEveryTriggerReleasedUnderStopMidGate(t *testing.T) {
	for _, policy := range []Policy{Poly, Mono} {
		t.Run(policy.String(), func(t *testing.T) {
			m, tl, rec := setup(WithPolicy(policy))
			for i := 0; i < 20; i++ {
				m.Trigger(note(uint8(40+i%5), time.Duration(30+i*7)*time.Millisecond))
				tl.Advance(11 * time.Millisecond)
			}
			m.Panic()
			tl.Advance(time.Second)

			trig, rel := m.Stats()
			assert.Equal(t, uint64(20), trig)
			assert.Equal(t, trig, rel)
			assert.Empty(t, rec.Balance())
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("mono")
	require.NoError(t, err)
	assert.Equal(t, Mono, p)
	_, err = ParsePolicy("duo")
	assert.Error(t, err)
}
