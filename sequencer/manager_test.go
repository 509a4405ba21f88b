package sequencer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"stepgrid/midi/miditest"
	"stepgrid/pattern"
	"stepgrid/timeline"
	"stepgrid/voice"
)

const step = 125 * time.Millisecond // at 120 bpm

func newTestManager(t *testing.T, o Options) (*Manager, *miditest.Recorder) {
	t.Helper()
	clock := &timeline.Manual{}
	rec := &miditest.Recorder{Now: clock.Now}
	o.Clock = clock
	o.Sink = rec
	m := NewManager(o)
	t.Cleanup(m.Close)
	return m, rec
}

func activate(t *testing.T, s *pattern.Store, p int, steps ...int) {
	t.Helper()
	for _, i := range steps {
		require.NoError(t, s.SetActive(p, i, true))
	}
}

func setPitch(t *testing.T, s *pattern.Store, p, st, pitch int) {
	t.Helper()
	require.NoError(t, s.Set(pattern.NoteTarget(p, st, 0, pattern.Pitch), pitch))
}

func onTimes(rec *miditest.Recorder) []time.Duration {
	var out []time.Duration
	for _, m := range rec.Only(miditest.NoteOn) {
		out = append(out, m.At)
	}
	return out
}

func onPitches(rec *miditest.Recorder) []uint8 {
	var out []uint8
	for _, m := range rec.Only(miditest.NoteOn) {
		out = append(out, m.Data1)
	}
	return out
}

func TestPlayEmitsActiveSteps(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	activate(t, m.Store(), 0, 0, 4)

	m.Play()
	m.tl.Advance(time.Second)

	assert.Equal(t, []time.Duration{0, 4 * step}, onTimes(rec))
	offs := rec.Only(miditest.NoteOff)
	require.Len(t, offs, 2)
	assert.Equal(t, step/2, offs[0].At, "default gate is half a step")

	// macros precede the note-on they belong to
	msgs := rec.Messages()
	assert.Equal(t, miditest.CC, msgs[0].Kind)
	assert.Equal(t, uint8(20), msgs[0].Data1)
	assert.Equal(t, uint8(21), msgs[1].Data1)
	assert.Equal(t, miditest.NoteOn, msgs[2].Kind)
	assert.Equal(t, 1, msgs[2].Channel)
}

func TestPatternLengthWraps(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	activate(t, m.Store(), 0, 0)
	require.NoError(t, m.Store().SetLength(0, 5))

	m.Play()
	m.tl.Advance(1300 * time.Millisecond)

	assert.Equal(t, []time.Duration{0, 5 * step, 10 * step}, onTimes(rec))
	assert.True(t, m.State().Playing)
	assert.Less(t, m.State().Step, 5)
}

func TestChainHopsAtEachPatternsOwnLength(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	require.NoError(t, s.SetLength(0, 5))
	activate(t, s, 0, 0)
	activate(t, s, 1, 0)
	setPitch(t, s, 1, 0, 62)
	require.NoError(t, m.AppendChain(0))
	require.NoError(t, m.AppendChain(1))

	m.Play()
	m.tl.Advance(2700 * time.Millisecond)

	assert.Equal(t, []uint8{60, 62, 60}, onPitches(rec))
	assert.Equal(t, []time.Duration{0, 5 * step, 21 * step}, onTimes(rec))
}

func TestChainWithoutLoopStopsAfterLastPattern(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	for p, pitch := range []int{60, 62, 64} {
		require.NoError(t, s.SetLength(p, 2))
		activate(t, s, p, 0)
		setPitch(t, s, p, 0, pitch)
		require.NoError(t, m.AppendChain(p))
	}
	m.SetChainLoop(false)

	m.Play()
	m.tl.Advance(2 * time.Second)

	assert.Equal(t, []uint8{60, 62, 64}, onPitches(rec))
	assert.False(t, m.State().Playing)
	assert.Equal(t, 0, m.tl.Pending(), "nothing may stay scheduled")
	assert.Equal(t, 0, m.sched.Pending())
	assert.Empty(t, rec.Balance())

	// the finish happened when the last pattern ended, not earlier
	alloff := rec.Only(miditest.AllOff)
	require.NotEmpty(t, alloff)
	assert.Equal(t, 6*step, alloff[0].At)
}

func TestChainWithoutLoopPlaysLateLastTrigger(t *testing.T) {
	m, rec := newTestManager(t, Options{Tempo: 300})
	s := m.Store()
	for p := range 2 {
		require.NoError(t, s.SetLength(p, 2))
		activate(t, s, p, 1)
		require.NoError(t, s.Set(pattern.StepTarget(p, 1, pattern.Swing), 100))
		require.NoError(t, s.Set(pattern.NoteTarget(p, 1, 0, pattern.MicroTiming), 50))
		require.NoError(t, m.AppendChain(p))
	}
	m.SetChainLoop(false)

	m.Play()
	m.tl.Advance(time.Second)

	// 50ms steps: swing and micro put each trigger 75ms after its step,
	// past the end of its pattern
	assert.Equal(t, []time.Duration{125 * time.Millisecond, 225 * time.Millisecond}, onTimes(rec))
	assert.False(t, m.State().Playing)
	assert.Equal(t, 0, m.sched.Pending())
	alloff := rec.Only(miditest.AllOff)
	require.NotEmpty(t, alloff)
	assert.Equal(t, 225*time.Millisecond, alloff[0].At)
}

func TestChainLoopCycles(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	for p := 0; p < 3; p++ {
		require.NoError(t, s.SetLength(p, 1))
		activate(t, s, p, 0)
		setPitch(t, s, p, 0, 60+p)
		require.NoError(t, m.AppendChain(p))
	}

	m.Play()
	m.tl.Advance(0)
	var steps, pats []int
	for i := 0; i < 7; i++ {
		st := m.State()
		steps = append(steps, st.ChainStep)
		pats = append(pats, st.Pattern)
		m.tl.Advance(step)
	}

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, steps)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, pats)
	assert.Equal(t, []uint8{60, 61, 62, 60, 61, 62, 60, 61}, onPitches(rec))
}

func TestPlayRestartsChainAtHead(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	for p := 0; p < 2; p++ {
		require.NoError(t, s.SetLength(p, 1))
		activate(t, s, p, 0)
		setPitch(t, s, p, 0, 70+p)
		require.NoError(t, m.AppendChain(p))
	}

	m.Play()
	m.tl.Advance(step)
	m.Stop()
	rec.Reset()

	m.Play()
	m.tl.Advance(0)
	assert.Equal(t, []uint8{70}, onPitches(rec))
}

func TestStopMidGateReleasesEverything(t *testing.T) {
	for _, policy := range []voice.Policy{voice.Poly, voice.Mono} {
		t.Run(policy.String(), func(t *testing.T) {
			store := pattern.NewStore(pattern.WithGateUnit(pattern.GateSteps))
			m, rec := newTestManager(t, Options{Store: store, Policy: policy})
			for i := 0; i < pattern.NumSteps; i++ {
				activate(t, store, 0, i)
				require.NoError(t, store.Set(pattern.NoteTarget(0, i, 0, pattern.Gate), 4))
			}

			m.Play()
			m.tl.Advance(300 * time.Millisecond)
			require.Len(t, rec.Only(miditest.NoteOn), 3)

			m.Stop()
			assert.Equal(t, 0, m.tl.Pending())
			assert.Empty(t, rec.Balance())
			assert.NotEmpty(t, rec.Only(miditest.AllOff))

			n := len(rec.Messages())
			m.tl.Advance(2 * time.Second)
			assert.Len(t, rec.Messages(), n, "no timer fires after stop")
			assert.False(t, m.State().Playing)
		})
	}
}

func TestMonoNeverOverlaps(t *testing.T) {
	store := pattern.NewStore(pattern.WithGateUnit(pattern.GateSteps))
	m, rec := newTestManager(t, Options{Store: store, Policy: voice.Mono})
	for i := 0; i < pattern.NumSteps; i++ {
		activate(t, store, 0, i)
		require.NoError(t, store.Set(pattern.NoteTarget(0, i, 0, pattern.Gate), 4))
	}

	m.Play()
	m.tl.Advance(400 * time.Millisecond)

	var kinds []miditest.Kind
	for _, msg := range rec.Messages() {
		if msg.Kind == miditest.NoteOn || msg.Kind == miditest.NoteOff {
			kinds = append(kinds, msg.Kind)
		}
	}
	assert.Equal(t, []miditest.Kind{
		miditest.NoteOn, miditest.NoteOff,
		miditest.NoteOn, miditest.NoteOff,
		miditest.NoteOn, miditest.NoteOff,
		miditest.NoteOn,
	}, kinds)
}

func TestTempoChangeAppliesToNextUnscheduledStep(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	activate(t, m.Store(), 0, 0, 1, 2, 3)

	m.Play()
	m.SetTempo(60)
	m.tl.Advance(700 * time.Millisecond)

	assert.Equal(t, []time.Duration{0, step, 3 * step, 5 * step}, onTimes(rec))
	assert.Equal(t, 60.0, m.State().Tempo)
}

func TestInvalidTempoClamped(t *testing.T) {
	m, _ := newTestManager(t, Options{Tempo: -4})
	assert.Equal(t, DefaultTempo, m.State().Tempo)
	m.SetTempo(1000)
	assert.Equal(t, MaxTempo, m.State().Tempo)
}

func TestSwingAndAccent(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	activate(t, s, 0, 1, 2)
	require.NoError(t, s.Set(pattern.StepTarget(0, 1, pattern.Swing), 50))
	require.NoError(t, s.Set(pattern.StepTarget(0, 1, pattern.Accent), 1))
	require.NoError(t, s.Set(pattern.StepTarget(0, 2, pattern.Swing), 50)) // even step: no swing
	require.NoError(t, s.Set(pattern.StepTarget(0, 2, pattern.Accent), 1))
	require.NoError(t, s.Set(pattern.NoteTarget(0, 2, 0, pattern.Velocity), 80))

	m.Play()
	m.tl.Advance(300 * time.Millisecond)

	ons := rec.Only(miditest.NoteOn)
	require.Len(t, ons, 2)
	assert.Equal(t, step+step/4, ons[0].At)
	assert.Equal(t, uint8(127), ons[0].Data2)
	assert.Equal(t, 2*step, ons[1].At)
	assert.Equal(t, uint8(120), ons[1].Data2)
}

func TestLateNotesFireImmediately(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	activate(t, s, 0, 0, 4)
	require.NoError(t, s.Set(pattern.NoteTarget(0, 0, 0, pattern.MicroTiming), -50))
	require.NoError(t, s.Set(pattern.NoteTarget(0, 4, 0, pattern.MicroTiming), 20))

	m.Play()
	m.tl.Advance(time.Second)

	assert.Equal(t, []time.Duration{0, 4*step + 20*time.Millisecond}, onTimes(rec))
}

func TestCursorWrapsIntoShorterPattern(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	s := m.Store()
	for i := 0; i < pattern.NumSteps; i++ {
		activate(t, s, 0, i)
	}
	require.NoError(t, s.SetLength(1, 4))
	activate(t, s, 1, 0)
	setPitch(t, s, 1, 0, 62)

	m.Play()
	m.tl.Advance(10 * step)
	require.NoError(t, m.SelectPattern(1))
	m.tl.Advance(600 * time.Millisecond)

	var at []time.Duration
	for _, msg := range rec.Only(miditest.NoteOn) {
		if msg.Data1 == 62 {
			at = append(at, msg.At)
		}
	}
	assert.Equal(t, []time.Duration{11 * step}, at)
	st := m.State()
	assert.Equal(t, 1, st.Pattern)
	assert.Less(t, st.Step, 4)
}

func TestSelectPatternOutOfRange(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	assert.ErrorIs(t, m.SelectPattern(8), pattern.ErrOutOfRange)
	assert.ErrorIs(t, m.AppendChain(-1), pattern.ErrOutOfRange)
}

func TestSelectClearsChainAppendKeepsPlaying(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	require.NoError(t, m.SelectPattern(3))
	require.NoError(t, m.AppendChain(5))
	require.NoError(t, m.AppendChain(6))

	st := m.State()
	assert.Equal(t, 3, st.Pattern)
	assert.Equal(t, []int{5, 6}, st.Chain)
	assert.True(t, st.InChain(6))

	require.NoError(t, m.SelectPattern(2))
	assert.False(t, m.State().Chained())
	require.NoError(t, m.AppendChain(1))
	m.ClearChain()
	assert.Empty(t, m.State().Chain)
}

func TestChannelAndOutputRouting(t *testing.T) {
	m, rec := newTestManager(t, Options{Channel: 3, Output: "Synth"})
	activate(t, m.Store(), 0, 0)
	m.SetChannel(20)
	assert.Equal(t, 16, m.State().Channel)

	m.Play()
	m.tl.Advance(0)
	on := rec.Only(miditest.NoteOn)
	require.Len(t, on, 1)
	assert.Equal(t, 16, on[0].Channel)
	assert.Equal(t, "Synth", on[0].Output)

	m.SetOutput("")
	assert.Equal(t, "", m.State().Output)
}

func TestPreviewAndPanic(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	n := pattern.DefaultNote()
	n.Pitch = 67

	m.Preview(n)
	assert.Equal(t, 1, m.voices.Active())
	m.tl.Advance(step / 2)
	assert.Empty(t, rec.Balance())

	m.Preview(n)
	m.Panic()
	assert.Empty(t, rec.Balance())
	assert.Len(t, rec.Only(miditest.AllOff), 1)
	m.Panic()
	assert.Len(t, rec.Only(miditest.AllOff), 1)
}

func TestToggle(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	m.Toggle()
	assert.True(t, m.State().Playing)
	m.Toggle()
	assert.False(t, m.State().Playing)
}

func TestUpdatesAnnounced(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	<-m.UpdateChan // published on construction

	require.NoError(t, m.Store().Toggle(0, 0))
	select {
	case <-m.UpdateChan:
	default:
		t.Fatal("edit was not announced")
	}
	assert.True(t, m.Store().Snapshot().Pattern(0).Steps[0].Active)
}

func TestLoadBank(t *testing.T) {
	m, rec := newTestManager(t, Options{})
	b, err := pattern.DecodeBank(strings.NewReader(`
tempo: 60
chain: [1, 0]
loop: false
patterns:
  - length: 1
    steps:
      - index: 0
        notes: [{pitch: 48}]
  - length: 1
    steps:
      - index: 0
        notes: [{pitch: 50}]
`))
	require.NoError(t, err)
	require.NoError(t, m.LoadBank(b))

	st := m.State()
	assert.Equal(t, 60.0, st.Tempo)
	assert.Equal(t, []int{1, 0}, st.Chain)
	assert.False(t, st.Loop)

	m.Play()
	m.tl.Advance(time.Second)
	assert.Equal(t, []uint8{50, 48}, onPitches(rec))
	assert.False(t, m.State().Playing)
}

func TestExportFromManager(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	activate(t, m.Store(), 0, 0)
	require.NoError(t, m.Store().Set(pattern.NoteTarget(0, 0, 0, pattern.Gate), 100))

	var buf bytes.Buffer
	require.NoError(t, m.Export(context.Background(), &buf))

	rd, err := smf.ReadFrom(&buf)
	require.NoError(t, err)
	require.Len(t, rd.Tracks, 1)

	var tick uint32
	var ons, offs []uint32
	for _, ev := range rd.Tracks[0] {
		tick += ev.Delta
		msg := gomidi.Message(ev.Message)
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			ons = append(ons, tick)
		case msg.GetNoteEnd(&ch, &key):
			offs = append(offs, tick)
		}
	}
	assert.Equal(t, []uint32{0}, ons)
	assert.Equal(t, []uint32{120}, offs)
}

func TestPollNotBelowLookaheadFallsBack(t *testing.T) {
	m, _ := newTestManager(t, Options{Poll: 200 * time.Millisecond, Lookahead: 100 * time.Millisecond})
	assert.Equal(t, DefaultPoll, m.sched.poll)
	assert.Equal(t, DefaultLookahead, m.sched.lookahead)

	m2, _ := newTestManager(t, Options{Poll: 10 * time.Millisecond, Lookahead: 50 * time.Millisecond})
	assert.Equal(t, 10*time.Millisecond, m2.sched.poll)
}
