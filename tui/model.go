package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"stepgrid/debug"
	"stepgrid/export"
	"stepgrid/pattern"
	"stepgrid/sequencer"
	"stepgrid/telemetry"
	"stepgrid/theme"
)

// appendKeys are the shifted digits on a US keyboard; shift+N appends
// pattern N to the chain.
const appendKeys = "!@#$%^&*"

type Model struct {
	Manager   *sequencer.Manager
	Theme     *theme.Theme
	ExportDir string

	cursor   int
	status   string
	quitting bool
	now      func() time.Time
}

type UpdateMsg struct{}

type exportedMsg struct {
	path string
	size int
	err  error
}

func NewModel(manager *sequencer.Manager, th *theme.Theme, exportDir string) Model {
	return Model{
		Manager:   manager,
		Theme:     th,
		ExportDir: exportDir,
		now:       time.Now,
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.Updates()
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.Manager)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tea.BlurMsg:
		// Losing focus mid-note would leave it hanging on the synth.
		m.Manager.Panic()

	case UpdateMsg:
		return m, ListenForUpdates(m.Manager)

	case exportedMsg:
		if msg.err != nil {
			m.status = "export failed: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("wrote %s (%s)", msg.path, humanize.Bytes(uint64(msg.size)))
		}
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	st := m.Manager.State()
	p := st.Pattern
	store := m.Manager.Store()
	edit := func(fn func(*pattern.Store) error) {
		if err := m.Manager.Edit(fn); err != nil {
			m.status = err.Error()
		}
	}

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Manager.Stop()
		return m, tea.Quit

	case "p":
		m.Manager.Toggle()

	case "+", "=":
		m.Manager.SetTempo(st.Tempo + 5)

	case "-", "_":
		m.Manager.SetTempo(st.Tempo - 5)

	case "1", "2", "3", "4", "5", "6", "7", "8":
		m.Manager.SelectPattern(int(key[0] - '1'))

	case "c":
		m.Manager.ClearChain()

	case "L":
		m.Manager.SetChainLoop(!st.Loop)

	case "x":
		m.Manager.Panic()
		m.status = "panic"

	case "e":
		return m, m.export()

	case "h", "left":
		if m.cursor > 0 {
			m.cursor--
		}

	case "l", "right":
		if m.cursor < pattern.NumSteps-1 {
			m.cursor++
		}

	case " ":
		edit(func(s *pattern.Store) error { return s.Toggle(p, m.cursor) })

	case "a":
		on := store.Snapshot().Pattern(p).Steps[m.cursor].Accent
		edit(func(s *pattern.Store) error {
			return s.Set(pattern.StepTarget(p, m.cursor, pattern.Accent), boolInt(!on))
		})

	case "k", "up":
		edit(m.nudge(p, pattern.Pitch, 1))
	case "j", "down":
		edit(m.nudge(p, pattern.Pitch, -1))
	case "K":
		edit(m.nudge(p, pattern.Pitch, 12))
	case "J":
		edit(m.nudge(p, pattern.Pitch, -12))

	case "]":
		edit(func(s *pattern.Store) error { return s.SetLength(p, s.Snapshot().Pattern(p).Length+1) })
	case "[":
		edit(func(s *pattern.Store) error { return s.SetLength(p, s.Snapshot().Pattern(p).Length-1) })

	case "enter":
		n := store.Snapshot().Pattern(p).Steps[m.cursor].Notes[0]
		m.Manager.Preview(n)

	default:
		if i := strings.Index(appendKeys, key); i >= 0 && len(key) == 1 {
			m.Manager.AppendChain(i)
		}
	}
	return m, nil
}

func (m Model) nudge(p int, f pattern.Field, delta int) func(*pattern.Store) error {
	return func(s *pattern.Store) error {
		return s.Nudge(pattern.NoteTarget(p, m.cursor, 0, f), delta)
	}
}

func (m Model) export() tea.Cmd {
	in := m.Manager.ExportInput()
	path := filepath.Join(m.ExportDir, export.FileName(m.now()))
	return func() tea.Msg {
		n, err := export.WriteFile(path, in)
		if err != nil {
			telemetry.CaptureError(err)
		}
		debug.Log("tui", "export %s: %d bytes, err=%v", path, n, err)
		return exportedMsg{path: path, size: n, err: err}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Manager.State()
	pat := m.Manager.Store().Snapshot().Pattern(st.Pattern)
	sym := m.Theme.Symbols

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	fgStyle := lipgloss.NewStyle().Foreground(m.Theme.FG())
	cursorStyle := lipgloss.NewStyle().Underline(true)
	playheadStyle := lipgloss.NewStyle().Reverse(true)

	playState := "STOP"
	if st.Playing {
		playState = "PLAY"
	}
	header := headerStyle.Render(fmt.Sprintf("stepgrid  %s  %5.1fbpm  %s  step:%02d  %s",
		playState, st.Tempo, pat.Name, st.Step+1, elapsed(st.Elapsed)))

	// Step grid
	var cells []string
	for i, step := range pat.Steps {
		char := sym.StepEmpty
		style := dimStyle
		switch {
		case i >= pat.Length:
			char = sym.StepBeyond
		case step.Active && step.Accent:
			char = sym.StepAccent
			style = lipgloss.NewStyle().Foreground(m.Theme.Velocity(step.Notes[0].Velocity))
		case step.Active:
			char = sym.StepActive
			style = lipgloss.NewStyle().Foreground(m.Theme.Velocity(step.Notes[0].Velocity))
		}
		if i == st.Step && st.Playing {
			char = sym.StepPlayhead
			style = playheadStyle
		}
		if i == m.cursor {
			style = style.Inherit(cursorStyle)
		}
		cells = append(cells, style.Render(string(char)))
	}
	grid := strings.Join(cells, " ")

	// Cursor detail
	step := pat.Steps[m.cursor]
	n := step.Notes[0]
	detail := fgStyle.Render(fmt.Sprintf("step %02d  %-4s vel %3d  gate %3d  micro %+3dms  swing %2d%%  notes %d",
		m.cursor+1, pattern.NoteName(int(n.Pitch)), n.Velocity, n.Gate, n.MicroTimingMs, step.Swing, len(step.Notes)))

	// Pattern row and chain
	var pads []string
	for i := 0; i < pattern.NumPatterns; i++ {
		char := sym.ChainNone
		if st.InChain(i) {
			char = sym.ChainEntry
		}
		style := dimStyle
		if i == st.Pattern {
			style = headerStyle
		}
		pads = append(pads, style.Render(fmt.Sprintf("%d%c", i+1, char)))
	}
	chain := "chain: -"
	if st.Chained() {
		var parts []string
		for i, p := range st.Chain {
			s := fmt.Sprint(p + 1)
			if st.Playing && i == st.ChainStep {
				s = "[" + s + "]"
			}
			parts = append(parts, s)
		}
		loop := "once"
		if st.Loop {
			loop = "loop"
		}
		chain = fmt.Sprintf("chain: %s (%s)", strings.Join(parts, " "), loop)
	}
	patterns := strings.Join(pads, " ") + "   " + dimStyle.Render(chain)

	out := st.Output
	if out == "" {
		out = "first output"
	}
	route := dimStyle.Render(fmt.Sprintf("→ %s ch%d  %s  voices:%d  bar %s",
		out, st.Channel, st.Policy, st.Voices, durafmt.Parse(st.BarDuration()).LimitFirstN(2)))

	help := dimStyle.Render("p:play  1-8:pattern  shift+1-8:chain  c:clear  L:loop  h/l:move  space:toggle  j/k:note  J/K:octave  a:accent  [/]:length  enter:preview  e:export  x:panic  q:quit")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(grid)
	b.WriteString("\n")
	b.WriteString(detail)
	b.WriteString("\n\n")
	b.WriteString(patterns)
	b.WriteString("\n")
	b.WriteString(route)
	b.WriteString("\n\n")
	b.WriteString(help)
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(m.Theme.Warning()).Render(m.status))
	}
	return b.String()
}

func elapsed(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}
