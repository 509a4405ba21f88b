package sequencer

import (
	"math"
	"time"
)

const (
	DefaultTempo = 120.0
	MinTempo     = 20.0
	MaxTempo     = 300.0
)

// SecondsPerStep returns the length of one sixteenth note.
func SecondsPerStep(bpm float64) float64 {
	return 60 / bpm / 4
}

// StepDuration is SecondsPerStep as a time.Duration, after clamping bpm.
func StepDuration(bpm float64) time.Duration {
	return time.Duration(SecondsPerStep(ClampTempo(bpm)) * float64(time.Second))
}

// ClampTempo maps invalid input to the default and keeps the rest in
// [MinTempo, MaxTempo].
func ClampTempo(bpm float64) float64 {
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) || bpm <= 0 {
		return DefaultTempo
	}
	return min(max(bpm, MinTempo), MaxTempo)
}

// ClampChannel keeps a MIDI channel in 1..16.
func ClampChannel(ch int) int {
	return min(max(ch, 1), 16)
}
