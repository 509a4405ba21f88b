// Package miditest provides a recording midi.Sink for tests.
package miditest

import (
	"fmt"
	"sync"
	"time"

	"stepgrid/midi"
)

type Kind int

const (
	NoteOn Kind = iota
	NoteOff
	CC
	AllOff
)

func (k Kind) String() string {
	return [...]string{"on", "off", "cc", "alloff"}[k]
}

// Message is one recorded sink call.
type Message struct {
	At      time.Duration
	Output  string
	Kind    Kind
	Channel int
	Data1   uint8 // pitch or controller
	Data2   uint8 // velocity or value
}

func (m Message) String() string {
	return fmt.Sprintf("%v %s ch%d %d/%d", m.At, m.Kind, m.Channel, m.Data1, m.Data2)
}

// Recorder records every call made to it. Now, when set, timestamps each
// message; hook it to a timeline clock.
type Recorder struct {
	Ports []midi.Port
	Now   func() time.Duration

	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) record(m Message) {
	if r.Now != nil {
		m.At = r.Now()
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *Recorder) Outputs() []midi.Port {
	return r.Ports
}

func (r *Recorder) NoteOn(output string, channel int, pitch, velocity uint8) {
	r.record(Message{Output: output, Kind: NoteOn, Channel: channel, Data1: pitch, Data2: velocity})
}

func (r *Recorder) NoteOff(output string, channel int, pitch uint8) {
	r.record(Message{Output: output, Kind: NoteOff, Channel: channel, Data1: pitch})
}

func (r *Recorder) ControlChange(output string, channel int, controller, value uint8) {
	r.record(Message{Output: output, Kind: CC, Channel: channel, Data1: controller, Data2: value})
}

func (r *Recorder) AllNotesOff(output string, channel int) {
	r.record(Message{Output: output, Kind: AllOff, Channel: channel})
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Only returns the recorded messages of one kind.
func (r *Recorder) Only(k Kind) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

// Balance returns note-ons minus note-offs per pitch, ignoring zeros. A
// correctly paired stream has an empty balance.
func (r *Recorder) Balance() map[uint8]int {
	bal := make(map[uint8]int)
	for _, m := range r.Messages() {
		switch m.Kind {
		case NoteOn:
			bal[m.Data1]++
		case NoteOff:
			bal[m.Data1]--
		}
	}
	for p, n := range bal {
		if n == 0 {
			delete(bal, p)
		}
	}
	return bal
}
