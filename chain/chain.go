// Package chain decides which pattern plays next.
//
// With an empty chain the manually selected pattern repeats. With a
// non-empty chain each pattern wrap advances to the next entry; at the end
// the chain either loops or ends playback.
package chain

import (
	"slices"

	"stepgrid/pattern"
)

// State is the sequencer's mode.
type State int

const (
	Disabled State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "disabled"
}

// Snapshot is a copy of the sequencer's state for display.
type Snapshot struct {
	State   State
	Entries []int
	Step    int
	Loop    bool
	Active  int
	InChain bool
}

// Sequencer holds the chain and the active pattern pointer. Not safe for
// concurrent use; run it on the timeline.
type Sequencer struct {
	entries []int
	step    int
	loop    bool
	manual  int
	active  int
	inChain bool
}

// New returns a disabled sequencer with pattern 0 selected and looping on.
func New() *Sequencer {
	return &Sequencer{loop: true}
}

func (c *Sequencer) State() State {
	if len(c.entries) == 0 {
		return Disabled
	}
	return Running
}

// Active returns the pattern that plays now.
func (c *Sequencer) Active() int {
	return c.active
}

// Entries returns a copy of the chain.
func (c *Sequencer) Entries() []int {
	return slices.Clone(c.entries)
}

func (c *Sequencer) Step() int {
	return c.step
}

func (c *Sequencer) Loop() bool {
	return c.loop
}

func (c *Sequencer) SetLoop(loop bool) {
	c.loop = loop
}

// Start resets to the head of the chain when there is one; otherwise the
// manual selection plays. Returns the active pattern.
func (c *Sequencer) Start() int {
	c.step = 0
	if len(c.entries) > 0 {
		c.active = c.entries[0]
		c.inChain = true
	} else {
		c.active = c.manual
		c.inChain = false
	}
	return c.active
}

// OnWrap advances after the active pattern completed a pass. It returns the
// pattern to play next and whether playback should end instead.
func (c *Sequencer) OnWrap() (next int, stop bool) {
	if len(c.entries) == 0 {
		return c.active, false
	}
	if !c.inChain {
		// the chain was built while a manual pattern played: enter at the head
		c.step = 0
		c.inChain = true
		c.active = c.entries[0]
		return c.active, false
	}
	c.step++
	if c.step >= len(c.entries) {
		if !c.loop {
			c.step = len(c.entries) - 1
			return c.active, true
		}
		c.step = 0
	}
	c.active = c.entries[c.step]
	return c.active, false
}

// Select is a plain pattern click: it clears the chain and makes p the
// active pattern straight away.
func (c *Sequencer) Select(p int) {
	if p < 0 || p >= pattern.NumPatterns {
		return
	}
	c.entries = nil
	c.step = 0
	c.inChain = false
	c.manual = p
	c.active = p
}

// Append is a modifier click: p joins the end of the chain. What plays now
// is unchanged.
func (c *Sequencer) Append(p int) {
	if p < 0 || p >= pattern.NumPatterns {
		return
	}
	c.entries = append(c.entries, p)
}

// Clear empties the chain, keeping the active pattern as the manual choice.
func (c *Sequencer) Clear() {
	c.entries = nil
	c.step = 0
	c.inChain = false
	c.manual = c.active
}

// Set replaces the chain, used when loading a bank.
func (c *Sequencer) Set(entries []int, loop bool) {
	c.entries = nil
	for _, p := range entries {
		c.Append(p)
	}
	c.loop = loop
	c.step = 0
	c.inChain = false
}

func (c *Sequencer) Snapshot() Snapshot {
	return Snapshot{
		State:   c.State(),
		Entries: c.Entries(),
		Step:    c.step,
		Loop:    c.loop,
		Active:  c.active,
		InChain: c.inChain,
	}
}
