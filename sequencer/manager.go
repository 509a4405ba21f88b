package sequencer

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"stepgrid/chain"
	"stepgrid/debug"
	"stepgrid/export"
	"stepgrid/midi"
	"stepgrid/pattern"
	"stepgrid/telemetry"
	"stepgrid/timeline"
	"stepgrid/voice"
)

// DefaultOverrun is how late a callback may run before it is reported.
const DefaultOverrun = 5 * time.Millisecond

// Options configures a Manager. Zero values mean defaults.
type Options struct {
	Clock     timeline.Clock
	Sink      midi.Sink
	Store     *pattern.Store
	Tempo     float64
	Channel   int
	Output    string
	Policy    voice.Policy
	MacroCC   [2]uint8
	Poll      time.Duration
	Lookahead time.Duration
	Overrun   time.Duration
}

// Manager owns the engine: timeline, store, chain, voices and scheduler.
// Its methods are safe from any goroutine; each one runs on the timeline.
type Manager struct {
	tl     *timeline.Timeline
	store  *pattern.Store
	chain  *chain.Sequencer
	voices *voice.Manager
	sched  *Scheduler
	sink   midi.Sink
	cc     [2]uint8

	pos   Position
	state atomic.Pointer[State]

	// Notify TUI of updates
	UpdateChan chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds an engine. Call StartRuntime to run it on its own
// goroutine; until then every method runs on the caller's goroutine.
func NewManager(o Options) *Manager {
	if o.Clock == nil {
		o.Clock = timeline.System()
	}
	if o.Store == nil {
		o.Store = pattern.NewStore()
	}
	if o.MacroCC == [2]uint8{} {
		o.MacroCC = [2]uint8{midi.CCMacroA, midi.CCMacroB}
	}
	if o.Overrun <= 0 {
		o.Overrun = DefaultOverrun
	}

	tl := timeline.New(o.Clock)
	voices := voice.New(tl, o.Sink,
		voice.WithPolicy(o.Policy),
		voice.WithMacroCCs(o.MacroCC[0], o.MacroCC[1]),
		voice.WithRoute(voice.Route{Output: o.Output, Channel: ClampChannel(o.Channel)}),
	)
	ch := chain.New()

	m := &Manager{
		tl:         tl,
		store:      o.Store,
		chain:      ch,
		voices:     voices,
		sched:      NewScheduler(tl, o.Store, ch, voices, o.Poll, o.Lookahead),
		sink:       o.Sink,
		cc:         o.MacroCC,
		UpdateChan: make(chan struct{}, 1),
	}
	m.sched.SetTempo(o.Tempo)
	m.sched.OnStep(func(p Position) {
		m.pos = p
		m.publish()
	})
	m.sched.OnFinish(func() {
		m.pos = Position{Pattern: m.chain.Active(), ChainStep: m.chain.Step()}
		m.publish()
	})

	warn := debug.Throttle("sched", time.Second)
	tl.OnOverrun(o.Overrun, func(late time.Duration) {
		warn("overrun: callback ran %s late", late)
		telemetry.Overrun(late)
	})

	o.Store.OnChange(func(*pattern.Snapshot) { m.notifyUpdate() })
	m.publish()
	return m
}

// StartRuntime runs the timeline until ctx is cancelled or Close is called.
func (m *Manager) StartRuntime(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.tl.Run(ctx)
	}()
}

// Running reports whether the runtime goroutine is active.
func (m *Manager) Running() bool {
	return m.tl.Running()
}

// Close stops playback, silences the output and ends the runtime.
func (m *Manager) Close() {
	m.Stop()
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}
}

func (m *Manager) call(fn func()) {
	if err := m.tl.Call(context.Background(), fn); err != nil {
		debug.Log("sched", "call failed: %v", err)
	}
}

// Store returns the pattern bank. It is safe for concurrent use.
func (m *Manager) Store() *pattern.Store {
	return m.store
}

// State returns the last published transport state.
func (m *Manager) State() State {
	return *m.state.Load()
}

// Updates fires after each publication. Notifications coalesce.
func (m *Manager) Updates() <-chan struct{} {
	return m.UpdateChan
}

// Outputs lists the sink's outputs.
func (m *Manager) Outputs() []midi.Port {
	return m.sink.Outputs()
}

// Play starts playback. Already playing is a no-op.
func (m *Manager) Play() {
	m.call(func() {
		if m.sched.Playing() {
			return
		}
		m.sched.Start()
	})
}

// Stop cancels everything scheduled, then panics the voices.
func (m *Manager) Stop() {
	m.call(func() {
		m.sched.Stop()
		m.pos = Position{Pattern: m.chain.Active(), ChainStep: m.chain.Step()}
		m.publish()
	})
}

func (m *Manager) Toggle() {
	m.call(func() {
		if m.sched.Playing() {
			m.sched.Stop()
			m.pos = Position{Pattern: m.chain.Active(), ChainStep: m.chain.Step()}
			m.publish()
			return
		}
		m.sched.Start()
	})
}

// SetTempo clamps bpm into range. The new tempo applies from the next step
// not yet scheduled.
func (m *Manager) SetTempo(bpm float64) {
	m.call(func() {
		m.sched.SetTempo(bpm)
		m.publish()
	})
}

// SetChannel clamps ch to 1..16. Sounding notes end on their old channel.
func (m *Manager) SetChannel(ch int) {
	m.call(func() {
		r := m.voices.Route()
		r.Channel = ClampChannel(ch)
		m.voices.SetRoute(r)
		m.publish()
	})
}

// SetOutput selects the output by id; "" means the first available.
func (m *Manager) SetOutput(id string) {
	m.call(func() {
		r := m.voices.Route()
		r.Output = id
		m.voices.SetRoute(r)
		debug.Log("midi", "output set to %q", id)
		m.publish()
	})
}

// SetPolicy switches the voice policy for later triggers.
func (m *Manager) SetPolicy(p voice.Policy) {
	m.call(func() {
		m.voices.SetPolicy(p)
		m.publish()
	})
}

// SelectPattern clears the chain and plays p from the next step.
func (m *Manager) SelectPattern(p int) error {
	if p < 0 || p >= pattern.NumPatterns {
		return fmt.Errorf("select pattern %d: %w", p, pattern.ErrOutOfRange)
	}
	m.call(func() {
		m.chain.Select(p)
		m.pos.Pattern = p
		m.publish()
	})
	return nil
}

// AppendChain adds p to the end of the chain without changing what plays.
func (m *Manager) AppendChain(p int) error {
	if p < 0 || p >= pattern.NumPatterns {
		return fmt.Errorf("append pattern %d: %w", p, pattern.ErrOutOfRange)
	}
	m.call(func() {
		m.chain.Append(p)
		m.publish()
	})
	return nil
}

func (m *Manager) ClearChain() {
	m.call(func() {
		m.chain.Clear()
		m.publish()
	})
}

// SetChainLoop chooses between looping the chain and stopping at its end.
func (m *Manager) SetChainLoop(loop bool) {
	m.call(func() {
		m.chain.SetLoop(loop)
		m.publish()
	})
}

// Panic releases every voice and sends all-notes-off without stopping the
// transport.
func (m *Manager) Panic() {
	m.call(func() {
		m.voices.Panic()
		m.publish()
	})
}

// Edit runs fn against the store. The store publishes its own snapshot, so
// playback picks the change up at its next poll.
func (m *Manager) Edit(fn func(*pattern.Store) error) error {
	return fn(m.store)
}

// Preview sounds n right away on the current route, as when editing a step.
func (m *Manager) Preview(n pattern.Note) {
	m.call(func() {
		step := StepDuration(m.sched.Tempo())
		m.voices.Trigger(voice.Note{
			Pitch:    n.Pitch,
			Velocity: n.Velocity,
			Gate:     m.store.GateUnit().Duration(n.Gate, step),
			MacroA:   n.MacroA,
			MacroB:   n.MacroB,
		})
	})
}

// LoadBank replaces the patterns and takes the bank's chain and tempo.
func (m *Manager) LoadBank(b *pattern.Bank) error {
	if err := m.store.Replace(b.Patterns); err != nil {
		return fmt.Errorf("cannot load bank: %w", err)
	}
	m.call(func() {
		m.chain.Set(b.Chain, b.Loop)
		if b.Tempo > 0 {
			m.sched.SetTempo(b.Tempo)
		}
		m.publish()
	})
	return nil
}

// ExportInput captures what an export of the current state would contain.
func (m *Manager) ExportInput() export.Input {
	var in export.Input
	m.call(func() {
		in = export.Input{
			Patterns: export.Sequence(m.store.Snapshot(), m.chain.Entries(), m.chain.Active()),
			Tempo:    m.sched.Tempo(),
			Gate:     m.store.GateUnit(),
			MacroCC:  m.cc,
		}
	})
	return in
}

// Export writes the chain, or the active pattern, as a MIDI file.
func (m *Manager) Export(ctx context.Context, w io.Writer) (err error) {
	_, done := telemetry.Span(ctx, "export", "encode midi file")
	defer func() { done(err) }()
	return export.Encode(w, m.ExportInput())
}

// OutputsChanged is called with the new port list after a hot-plug.
func (m *Manager) OutputsChanged(ports []midi.Port) {
	m.call(func() {
		out := m.voices.Route().Output
		if out != "" && !hasPort(ports, out) {
			debug.Log("midi", "output %q gone, falling back to first port", out)
		}
		m.publish()
	})
}

func hasPort(ports []midi.Port, id string) bool {
	for _, p := range ports {
		if p.ID == id {
			return true
		}
	}
	return false
}

// publish runs on the timeline.
func (m *Manager) publish() {
	r := m.voices.Route()
	st := &State{
		Playing:   m.sched.Playing(),
		Tempo:     m.sched.Tempo(),
		Step:      m.pos.Step,
		Pattern:   m.pos.Pattern,
		Chain:     m.chain.Entries(),
		ChainStep: m.pos.ChainStep,
		Loop:      m.chain.Loop(),
		Channel:   r.Channel,
		Output:    r.Output,
		Policy:    m.voices.Policy().String(),
		Voices:    m.voices.Active(),
		Elapsed:   m.sched.Elapsed(),
		Bank:      m.store.Snapshot().Version(),
	}
	m.state.Store(st)
	m.notifyUpdate()
}

// notifyUpdate never blocks; a pending notification covers this one.
func (m *Manager) notifyUpdate() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}
