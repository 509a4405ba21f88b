package sequencer

import (
	"time"

	"stepgrid/chain"
	"stepgrid/debug"
	"stepgrid/pattern"
	"stepgrid/timeline"
	"stepgrid/voice"
)

// Default scheduling intervals.
const (
	DefaultPoll      = 25 * time.Millisecond
	DefaultLookahead = 100 * time.Millisecond
)

// Position is the step being played, published for display.
type Position struct {
	Pattern   int
	Step      int
	ChainStep int
}

// Scheduler is the lookahead loop. Every poll it emits all steps whose time
// falls inside the lookahead window as one-shot timers, then reschedules
// itself. It runs on the timeline and is not safe for concurrent use.
type Scheduler struct {
	tl     *timeline.Timeline
	store  *pattern.Store
	chain  *chain.Sequencer
	voices *voice.Manager

	poll      time.Duration
	lookahead time.Duration
	tempo     float64

	playing   bool
	finishing bool
	cursor    int
	nextTime  time.Duration
	startedAt time.Duration
	lastFire  time.Duration // latest note trigger scheduled so far

	loop    *timeline.Timer
	pending map[*timeline.Timer]struct{}

	onStep   func(Position)
	onFinish func()
}

// NewScheduler wires a scheduler. poll must be shorter than lookahead; if
// not, both fall back to the defaults.
func NewScheduler(tl *timeline.Timeline, store *pattern.Store, ch *chain.Sequencer, voices *voice.Manager, poll, lookahead time.Duration) *Scheduler {
	if poll <= 0 || lookahead <= 0 || poll >= lookahead {
		if poll != 0 || lookahead != 0 {
			debug.Log("sched", "poll %s >= lookahead %s, using defaults", poll, lookahead)
		}
		poll, lookahead = DefaultPoll, DefaultLookahead
	}
	return &Scheduler{
		tl:        tl,
		store:     store,
		chain:     ch,
		voices:    voices,
		poll:      poll,
		lookahead: lookahead,
		tempo:     DefaultTempo,
		pending:   make(map[*timeline.Timer]struct{}),
		onStep:    func(Position) {},
		onFinish:  func() {},
	}
}

// OnStep sets the callback run at each step's time.
func (s *Scheduler) OnStep(fn func(Position)) {
	s.onStep = fn
}

// OnFinish sets the callback run when a non-looping chain ends playback.
func (s *Scheduler) OnFinish(fn func()) {
	s.onFinish = fn
}

func (s *Scheduler) Playing() bool {
	return s.playing
}

// Elapsed returns how long playback has been running.
func (s *Scheduler) Elapsed() time.Duration {
	if !s.playing {
		return 0
	}
	return s.tl.Now() - s.startedAt
}

func (s *Scheduler) Tempo() float64 {
	return s.tempo
}

// SetTempo takes effect from the next step not yet scheduled.
func (s *Scheduler) SetTempo(bpm float64) {
	s.tempo = ClampTempo(bpm)
}

// Pending returns the number of scheduled but unfired step callbacks.
func (s *Scheduler) Pending() int {
	return len(s.pending)
}

// Start begins playback at the head of the chain, or the selected pattern.
func (s *Scheduler) Start() {
	if s.playing {
		return
	}
	s.playing = true
	s.finishing = false
	s.cursor = 0
	s.chain.Start()
	s.nextTime = s.tl.Now()
	s.startedAt = s.nextTime
	s.lastFire = 0
	debug.Log("sched", "start tempo=%.1f pattern=%d", s.tempo, s.chain.Active())
	s.onStep(Position{Pattern: s.chain.Active()})
	s.tick()
}

// Stop cancels every pending callback before silencing the voices, so no
// timer can fire after it returns. Calling it when stopped still panics.
func (s *Scheduler) Stop() {
	if s.loop != nil {
		s.loop.Stop()
		s.loop = nil
	}
	for tm := range s.pending {
		tm.Stop()
	}
	clear(s.pending)
	s.voices.Panic()

	if s.playing {
		debug.Log("sched", "stop at step %d", s.cursor)
	}
	s.playing = false
	s.finishing = false
	s.cursor = 0
	s.nextTime = 0
	s.lastFire = 0
}

func (s *Scheduler) tick() {
	s.loop = nil
	if !s.playing {
		return
	}

	snap := s.store.Snapshot()
	now := s.tl.Now()
	for !s.finishing && s.nextTime < now+s.lookahead {
		idx := s.chain.Active()
		p := snap.Pattern(idx)
		if s.cursor >= p.Length {
			s.cursor = 0
		}
		s.emit(p, idx, s.cursor, s.nextTime, now)

		s.nextTime += StepDuration(s.tempo)
		s.cursor++
		if s.cursor >= p.Length {
			s.cursor = 0
			if _, stop := s.chain.OnWrap(); stop {
				s.finishing = true
				// swing and micro timing can push the last triggers past the end
				s.at(max(s.nextTime, s.lastFire), s.finish)
			}
		}
	}

	if !s.finishing {
		s.loop = s.tl.After(s.poll, s.tick)
	}
}

func (s *Scheduler) emit(p *pattern.Pattern, idx, cursor int, base, now time.Duration) {
	pos := Position{Pattern: idx, Step: cursor, ChainStep: s.chain.Step()}
	s.at(base, func() { s.onStep(pos) })

	st := &p.Steps[cursor]
	if !st.Active {
		return
	}

	step := StepDuration(s.tempo)
	var swing time.Duration
	if cursor%2 == 1 {
		swing = time.Duration(float64(step) * float64(st.Swing) / 100 * 0.5)
	}
	gate := s.store.GateUnit()
	for _, n := range st.Notes {
		fire := base + swing + time.Duration(n.MicroTimingMs)*time.Millisecond
		s.lastFire = max(s.lastFire, fire)
		vel := n.Velocity
		if st.Accent {
			vel = pattern.AccentVelocity(vel)
		}
		vn := voice.Note{
			Pitch:    n.Pitch,
			Velocity: vel,
			Gate:     gate.Duration(n.Gate, step),
			MacroA:   n.MacroA,
			MacroB:   n.MacroB,
		}
		s.after(max(0, fire-now), func() { s.voices.Trigger(vn) })
	}
}

// finish ends playback once the last pattern of a non-looping chain is done
// and its last trigger has fired.
func (s *Scheduler) finish() {
	debug.Log("sched", "chain finished")
	s.Stop()
	s.onFinish()
}

func (s *Scheduler) at(t time.Duration, fn func()) {
	s.after(t-s.tl.Now(), fn)
}

// after registers a timer that forgets itself once fired.
func (s *Scheduler) after(d time.Duration, fn func()) {
	var tm *timeline.Timer
	tm = s.tl.After(d, func() {
		delete(s.pending, tm)
		fn()
	})
	s.pending[tm] = struct{}{}
}
