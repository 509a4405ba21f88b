package tone

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"stepgrid/debug"
	"stepgrid/midi"
)

// Player is a midi.Sink that sounds every note through the audio device.
// Output ids and channels are ignored: everything plays on one voice.
type Player struct {
	mu   sync.Mutex
	r    Renderer
	gain float32

	left, right []float32

	ctx    *oto.Context
	player *oto.Player
}

// NewPlayer wraps r. Nothing is heard until Start.
func NewPlayer(r Renderer, gain float64) *Player {
	if gain <= 0 {
		gain = 1
	}
	return &Player{r: r, gain: float32(gain)}
}

// Start opens the audio device and begins pulling samples.
func (p *Player) Start() error {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   20 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("cannot open audio device: %w", err)
	}
	<-ready
	p.ctx = ctx
	p.player = ctx.NewPlayer(p)
	p.player.Play()
	debug.Log("tone", "reference tone started at %d Hz", SampleRate)
	return nil
}

// Close stops playback.
func (p *Player) Close() error {
	if p.player == nil {
		return nil
	}
	err := p.player.Close()
	p.player = nil
	return err
}

// Read renders interleaved stereo float32 samples. oto calls it from its
// own goroutine.
func (p *Player) Read(buf []byte) (int, error) {
	frames := len(buf) / 8
	p.mu.Lock()
	defer p.mu.Unlock()
	if cap(p.left) < frames {
		p.left = make([]float32, frames)
		p.right = make([]float32, frames)
	}
	l, r := p.left[:frames], p.right[:frames]
	p.r.Render(l, r)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(clip(l[i]*p.gain)))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(clip(r[i]*p.gain)))
	}
	return frames * 8, nil
}

func clip(v float32) float32 {
	return min(max(v, -1), 1)
}

func (p *Player) Outputs() []midi.Port {
	return nil
}

func (p *Player) NoteOn(_ string, _ int, pitch, velocity uint8) {
	p.mu.Lock()
	p.r.NoteOn(int(pitch), int(velocity))
	p.mu.Unlock()
}

func (p *Player) NoteOff(_ string, _ int, pitch uint8) {
	p.mu.Lock()
	p.r.NoteOff(int(pitch))
	p.mu.Unlock()
}

func (p *Player) ControlChange(_ string, _ int, controller, value uint8) {
	p.mu.Lock()
	p.r.ControlChange(int(controller), int(value))
	p.mu.Unlock()
}

func (p *Player) AllNotesOff(string, int) {
	p.mu.Lock()
	p.r.AllOff()
	p.mu.Unlock()
}
