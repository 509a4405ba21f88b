// Package voice pairs every note trigger with exactly one release.
//
// A voice is created by Trigger and ends in Release, which fires from the
// voice's own gate timer, from a newer trigger taking over a mono lane, or
// from Panic. Whichever comes first wins; the others find the voice gone and
// do nothing.
package voice

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"stepgrid/debug"
	"stepgrid/midi"
	"stepgrid/timeline"
)

// Policy decides what happens when a trigger arrives while notes sound.
type Policy int

const (
	// Poly gives every trigger its own voice and release timer.
	Poly Policy = iota
	// Mono keeps a single lane: a new trigger releases the sounding voice
	// before its own Note-On.
	Mono
)

func (p Policy) String() string {
	if p == Mono {
		return "mono"
	}
	return "poly"
}

// ParsePolicy accepts "poly" or "mono". Empty means poly.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "poly":
		return Poly, nil
	case "mono":
		return Mono, nil
	}
	return Poly, fmt.Errorf("unknown voice policy %q", s)
}

// Reason says why a voice was released.
type Reason int

const (
	Gate Reason = iota
	Overlap
	Panic
)

func (r Reason) String() string {
	return [...]string{"gate", "overlap", "panic"}[r]
}

// ID identifies one triggered voice. Zero is never issued.
type ID uint64

// Route is where a voice's messages go.
type Route struct {
	Output  string
	Channel int
}

// Note is a trigger request.
type Note struct {
	Pitch    uint8
	Velocity uint8
	Gate     time.Duration
	MacroA   uint8
	MacroB   uint8
}

// Timers is the part of the timeline the manager needs.
type Timers interface {
	After(d time.Duration, fn func()) *timeline.Timer
}

type voice struct {
	pitch uint8
	route Route
	timer *timeline.Timer
}

// Manager tracks sounding voices. It is not safe for concurrent use; run it
// on the timeline.
type Manager struct {
	timers Timers
	sink   midi.Sink
	policy Policy
	route  Route
	ccA    uint8
	ccB    uint8

	voices map[ID]*voice
	lane   ID
	nextID ID

	used  map[Route]bool
	quiet bool

	triggered uint64
	released  uint64
}

// Option configures a Manager.
type Option func(*Manager)

func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithMacroCCs sets the controllers macroA and macroB are sent on.
func WithMacroCCs(a, b uint8) Option {
	return func(m *Manager) { m.ccA, m.ccB = a, b }
}

func WithRoute(r Route) Option {
	return func(m *Manager) { m.route = r }
}

func New(timers Timers, sink midi.Sink, opts ...Option) *Manager {
	m := &Manager{
		timers: timers,
		sink:   sink,
		route:  Route{Channel: 1},
		ccA:    midi.CCMacroA,
		ccB:    midi.CCMacroB,
		voices: make(map[ID]*voice),
		used:   make(map[Route]bool),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetRoute changes where new voices go. Sounding voices keep their route so
// their Note-Off lands where their Note-On did.
func (m *Manager) SetRoute(r Route) {
	m.route = r
}

func (m *Manager) Route() Route {
	return m.route
}

// SetPolicy switches policy for later triggers.
func (m *Manager) SetPolicy(p Policy) {
	m.policy = p
	if p == Poly {
		m.lane = 0
	}
}

func (m *Manager) Policy() Policy {
	return m.policy
}

// Active returns the number of sounding voices.
func (m *Manager) Active() int {
	return len(m.voices)
}

// Stats returns how many voices were triggered and released so far.
func (m *Manager) Stats() (triggered, released uint64) {
	return m.triggered, m.released
}

// Trigger sends the macro CCs and Note-On for n and starts its release
// timer. In mono mode any sounding lane voice is released first.
func (m *Manager) Trigger(n Note) ID {
	if m.policy == Mono && m.lane != 0 {
		m.Release(m.lane, Overlap)
	}

	m.nextID++
	id := m.nextID
	v := &voice{pitch: n.Pitch & 0x7f, route: m.route}
	m.voices[id] = v
	m.used[v.route] = true
	m.quiet = false
	m.triggered++
	if m.policy == Mono {
		m.lane = id
	}

	m.sink.ControlChange(v.route.Output, v.route.Channel, m.ccA, n.MacroA&0x7f)
	m.sink.ControlChange(v.route.Output, v.route.Channel, m.ccB, n.MacroB&0x7f)
	m.sink.NoteOn(v.route.Output, v.route.Channel, v.pitch, n.Velocity&0x7f)

	v.timer = m.timers.After(n.Gate, func() { m.Release(id, Gate) })
	return id
}

// Release ends a voice: its timer is cancelled and its Note-Off sent.
// Unknown or already released ids are ignored. Reports whether a voice
// was released.
func (m *Manager) Release(id ID, reason Reason) bool {
	v, ok := m.voices[id]
	if !ok {
		return false
	}
	delete(m.voices, id)
	if m.lane == id {
		m.lane = 0
	}
	v.timer.Stop()
	m.released++
	m.sink.NoteOff(v.route.Output, v.route.Channel, v.pitch)
	if reason != Gate {
		debug.Log("voice", "release %d pitch=%d reason=%s", id, v.pitch, reason)
	}
	return true
}

// Panic releases every voice and sends all-notes-off and all-sound-off to
// every route used since the last panic. Calling it again with nothing
// triggered in between does nothing.
func (m *Manager) Panic() {
	if m.quiet && len(m.voices) == 0 {
		return
	}

	ids := make([]ID, 0, len(m.voices))
	for id := range m.voices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m.Release(id, Panic)
	}

	m.used[m.route] = true
	routes := make([]Route, 0, len(m.used))
	for r := range m.used {
		routes = append(routes, r)
	}
	slices.SortFunc(routes, func(a, b Route) int {
		return cmp.Or(strings.Compare(a.Output, b.Output), cmp.Compare(a.Channel, b.Channel))
	})
	for _, r := range routes {
		m.sink.AllNotesOff(r.Output, r.Channel)
	}

	debug.Log("voice", "panic: released %d voices, %d routes silenced", len(ids), len(routes))
	m.used = make(map[Route]bool)
	m.quiet = true
}
