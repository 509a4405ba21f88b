package theme

import (
	"github.com/charmbracelet/lipgloss"

	"stepgrid/debug"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	StepEmpty    rune // · inactive step
	StepActive   rune // ● has notes to play
	StepAccent   rune // ◆ active and accented
	StepPlayhead rune // ▶ current playing
	StepBeyond   rune // - past pattern length

	ChainEntry rune // ■ pattern in chain
	ChainNone  rune // □ pattern not in chain
}

func New(palette *Palette) *Theme {
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			StepEmpty:    '·',
			StepActive:   '●',
			StepAccent:   '◆',
			StepPlayhead: '▶',
			StepBeyond:   '-',

			ChainEntry: '■',
			ChainNone:  '□',
		},
	}
}

// Load returns the theme for a GPL palette path, or the built-in palette
// when path is empty or unreadable.
func Load(path string) *Theme {
	if path == "" {
		return New(Plasma())
	}
	p, err := LoadGPL(path)
	if err != nil {
		debug.Log("theme", "%v, using plasma", err)
		return New(Plasma())
	}
	return New(p)
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleMuted   = 0.25
	RoleFG      = 0.45
	RoleAccent  = 0.55
	RoleActive  = 0.7
	RoleWarning = 0.85
	RoleSuccess = 1.0
)

func (t *Theme) BG() lipgloss.Color      { return t.Color(RoleBG) }
func (t *Theme) FG() lipgloss.Color      { return t.Color(RoleFG) }
func (t *Theme) Accent() lipgloss.Color  { return t.Color(RoleAccent) }
func (t *Theme) Muted() lipgloss.Color   { return t.Color(RoleMuted) }
func (t *Theme) Active() lipgloss.Color  { return t.Color(RoleActive) }
func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }
func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return lipgloss.Color(t.Palette.Lookup(norm).Hex())
}

// Velocity maps a MIDI velocity onto the palette, so louder steps are
// brighter.
func (t *Theme) Velocity(v uint8) lipgloss.Color {
	return t.Color(RoleMuted + (RoleSuccess-RoleMuted)*float64(v)/127)
}
