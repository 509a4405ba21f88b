package pattern

import (
	"fmt"
	"slices"
	"strings"
)

var scaleIntervals = map[string][]int{
	"chromatic":  {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	"major":      {0, 2, 4, 5, 7, 9, 11},
	"minor":      {0, 2, 3, 5, 7, 8, 10},
	"pentatonic": {0, 2, 4, 7, 9},
	"dorian":     {0, 2, 3, 5, 7, 9, 10},
	"phrygian":   {0, 1, 3, 5, 7, 8, 10},
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Scale is a set of pitch classes relative to a root (0 = C).
type Scale struct {
	Name      string
	Root      int
	intervals []int
}

// Chromatic is the scale every pitch belongs to.
func Chromatic() Scale {
	s, _ := NewScale("chromatic", 0)
	return s
}

// NewScale looks up a named scale. Root is taken modulo 12.
func NewScale(name string, root int) (Scale, error) {
	name = strings.ToLower(name)
	if name == "" {
		name = "chromatic"
	}
	iv, ok := scaleIntervals[name]
	if !ok {
		return Scale{}, fmt.Errorf("unknown scale %q", name)
	}
	return Scale{Name: name, Root: ((root % 12) + 12) % 12, intervals: iv}, nil
}

// ScaleNames lists the known scale names, sorted.
func ScaleNames() []string {
	names := make([]string, 0, len(scaleIntervals))
	for n := range scaleIntervals {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (s Scale) String() string {
	return noteNames[s.Root] + " " + s.Name
}

// Contains reports whether pitch belongs to the scale.
func (s Scale) Contains(pitch int) bool {
	if len(s.intervals) == 0 {
		return true
	}
	iv := ((pitch-s.Root)%12 + 12) % 12
	return slices.Contains(s.intervals, iv)
}

// Snap moves pitch down to the nearest pitch in the scale, staying in 0..127.
func (s Scale) Snap(pitch int) int {
	pitch = clamp(pitch, 0, 127)
	for p := pitch; p >= 0; p-- {
		if s.Contains(p) {
			return p
		}
	}
	for p := pitch; p <= 127; p++ {
		if s.Contains(p) {
			return p
		}
	}
	return pitch
}

// Fold returns the in-scale pitches in [lo, hi], the keys a folded keyboard
// shows.
func (s Scale) Fold(lo, hi int) []int {
	lo, hi = clamp(lo, 0, 127), clamp(hi, 0, 127)
	var out []int
	for p := lo; p <= hi; p++ {
		if s.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

// NoteName formats a MIDI pitch as e.g. "C4" (60 = C4).
func NoteName(pitch int) string {
	pitch = clamp(pitch, 0, 127)
	return fmt.Sprintf("%s%d", noteNames[pitch%12], pitch/12-1)
}
