// Package tone is the built-in reference tone: a small synth that plays
// along with the MIDI output so a pattern can be heard without hardware.
package tone

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"
)

const SampleRate = 44100

// Renderer turns note events into audio. Implementations are driven from a
// single goroutine at a time.
type Renderer interface {
	NoteOn(key, velocity int)
	NoteOff(key int)
	ControlChange(controller, value int)
	AllOff()
	Render(left, right []float32)
}

// release time of the sine voice, in samples
const sineRelease = SampleRate / 50

type osc struct {
	phase float64
	step  float64
	amp   float64
	env   float64
	down  bool
}

// Sine is a polyphonic sine voice with a short attack and release.
type Sine struct {
	voices map[int]*osc
}

func NewSine() *Sine {
	return &Sine{voices: make(map[int]*osc)}
}

func (s *Sine) NoteOn(key, velocity int) {
	freq := 440 * math.Pow(2, float64(key-69)/12)
	s.voices[key] = &osc{step: 2 * math.Pi * freq / SampleRate, amp: float64(velocity) / 127 * 0.2}
}

func (s *Sine) NoteOff(key int) {
	if v, ok := s.voices[key]; ok {
		v.down = true
	}
}

func (s *Sine) ControlChange(int, int) {}

func (s *Sine) AllOff() {
	clear(s.voices)
}

// Active returns the number of voices still producing sound.
func (s *Sine) Active() int {
	return len(s.voices)
}

func (s *Sine) Render(left, right []float32) {
	for i := range left {
		var sum float64
		for key, v := range s.voices {
			if v.down {
				v.env -= 1.0 / sineRelease
				if v.env <= 0 {
					delete(s.voices, key)
					continue
				}
			} else if v.env < 1 {
				v.env = min(1, v.env+1.0/sineRelease)
			}
			sum += math.Sin(v.phase) * v.amp * v.env
			v.phase = math.Mod(v.phase+v.step, 2*math.Pi)
		}
		left[i] = float32(sum)
		right[i] = float32(sum)
	}
}

// SoundFont plays through a meltysynth synthesizer on MIDI channel 0.
type SoundFont struct {
	syn *meltysynth.Synthesizer
}

// LoadSoundFont reads an .sf2 file.
func LoadSoundFont(path string) (*SoundFont, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read soundfont: %w", err)
	}
	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot parse soundfont %s: %w", path, err)
	}
	syn, err := meltysynth.NewSynthesizer(sf, meltysynth.NewSynthesizerSettings(SampleRate))
	if err != nil {
		return nil, fmt.Errorf("cannot create synthesizer: %w", err)
	}
	return &SoundFont{syn: syn}, nil
}

func (s *SoundFont) NoteOn(key, velocity int) {
	s.syn.NoteOn(0, int32(key), int32(velocity))
}

func (s *SoundFont) NoteOff(key int) {
	s.syn.NoteOff(0, int32(key))
}

func (s *SoundFont) ControlChange(controller, value int) {
	s.syn.ProcessMidiMessage(0, 0xB0, int32(controller), int32(value))
}

func (s *SoundFont) AllOff() {
	s.syn.ProcessMidiMessage(0, 0xB0, 123, 0)
	s.syn.ProcessMidiMessage(0, 0xB0, 120, 0)
}

func (s *SoundFont) Render(left, right []float32) {
	s.syn.Render(left, right)
}
