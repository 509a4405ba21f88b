// Package control exposes the sequencer as MCP tools over stdio, so an
// assistant can drive transport, chain and pattern edits.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"stepgrid/debug"
	"stepgrid/export"
	"stepgrid/pattern"
	"stepgrid/sequencer"
	"stepgrid/telemetry"
)

type handlers struct {
	m         *sequencer.Manager
	exportDir string
	now       func() time.Time
}

// NewServer registers every tool against m. Exports are written to
// exportDir.
func NewServer(m *sequencer.Manager, exportDir, version string) *server.MCPServer {
	h := &handlers{m: m, exportDir: exportDir, now: time.Now}

	s := server.NewMCPServer(
		"stepgrid",
		version,
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("stepgrid_state",
		mcp.WithDescription("Returns the transport state: playing, tempo, current step and pattern, chain, MIDI routing."),
	), h.state)

	s.AddTool(mcp.NewTool("stepgrid_play",
		mcp.WithDescription("Starts playback from the first chain entry, or the selected pattern."),
	), h.play)

	s.AddTool(mcp.NewTool("stepgrid_stop",
		mcp.WithDescription("Stops playback and silences every sounding note."),
	), h.stop)

	s.AddTool(mcp.NewTool("stepgrid_panic",
		mcp.WithDescription("Sends all-notes-off and all-sound-off without stopping playback."),
	), h.panic)

	s.AddTool(mcp.NewTool("stepgrid_set-tempo",
		mcp.WithDescription("Sets the tempo. Values are clamped to 20-300 BPM."),
		mcp.WithNumber("bpm", mcp.Required(), mcp.Description("Tempo in beats per minute.")),
	), h.setTempo)

	s.AddTool(mcp.NewTool("stepgrid_select-pattern",
		mcp.WithDescription("Selects a pattern to play and clears the chain."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern number (1-8).")),
	), h.selectPattern)

	s.AddTool(mcp.NewTool("stepgrid_append-chain",
		mcp.WithDescription("Appends a pattern to the chain. The current pattern keeps playing."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern number (1-8).")),
	), h.appendChain)

	s.AddTool(mcp.NewTool("stepgrid_clear-chain",
		mcp.WithDescription("Empties the chain; the current pattern repeats."),
	), h.clearChain)

	s.AddTool(mcp.NewTool("stepgrid_set-loop",
		mcp.WithDescription("Chooses whether the chain loops or playback stops after its last pattern."),
		mcp.WithBoolean("loop", mcp.Required(), mcp.Description("true to loop the chain.")),
	), h.setLoop)

	s.AddTool(mcp.NewTool("stepgrid_get-pattern",
		mcp.WithDescription("Returns a pattern with all 16 steps and their notes as JSON."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern number (1-8).")),
	), h.getPattern)

	s.AddTool(mcp.NewTool("stepgrid_toggle-step",
		mcp.WithDescription("Turns a step on or off."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern number (1-8).")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Step number (1-16).")),
	), h.toggleStep)

	s.AddTool(mcp.NewTool("stepgrid_set-param",
		mcp.WithDescription("Sets one parameter of a step or of a note in it. Values are clamped to the parameter's range."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern number (1-8).")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Step number (1-16).")),
		mcp.WithNumber("note", mcp.Description("Note number within the step's stack, default 1.")),
		mcp.WithString("field", mcp.Required(), mcp.Description("One of: "+fieldList()+".")),
		mcp.WithNumber("value", mcp.Required(), mcp.Description("New value.")),
	), h.setParam)

	s.AddTool(mcp.NewTool("stepgrid_set-length",
		mcp.WithDescription("Sets how many steps of a pattern play (1-16)."),
		mcp.WithNumber("pattern", mcp.Required(), mcp.Description("Pattern number (1-8).")),
		mcp.WithNumber("length", mcp.Required(), mcp.Description("Length in steps.")),
	), h.setLength)

	s.AddTool(mcp.NewTool("stepgrid_list-outputs",
		mcp.WithDescription("Lists the MIDI outputs that can be selected."),
	), h.listOutputs)

	s.AddTool(mcp.NewTool("stepgrid_set-output",
		mcp.WithDescription("Selects the MIDI output by id. An empty id means the first available output."),
		mcp.WithString("id", mcp.Description("Output id from stepgrid_list-outputs.")),
		mcp.WithNumber("channel", mcp.Description("MIDI channel (1-16).")),
	), h.setOutput)

	s.AddTool(mcp.NewTool("stepgrid_export",
		mcp.WithDescription("Writes the chain, or the selected pattern, as a Standard MIDI File and returns its path."),
		mcp.WithString("name", mcp.Description("File name; defaults to stepgrid16_<date>.mid.")),
	), h.export)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	debug.Log("mcp", "serving on stdio")
	return server.ServeStdio(s)
}

func fieldList() string {
	names := make([]string, 0, pattern.Accent+1)
	for f := pattern.Pitch; f <= pattern.Accent; f++ {
		names = append(names, f.String())
	}
	return strings.Join(names, ", ")
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// index reads a 1-based argument and returns it 0-based.
func index(req mcp.CallToolRequest, key string, n int) (int, error) {
	v, err := req.RequireInt(key)
	if err != nil {
		return 0, err
	}
	if v < 1 || v > n {
		return 0, fmt.Errorf("%s must be 1-%d, got %d", key, n, v)
	}
	return v - 1, nil
}

func (h *handlers) state(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.m.State())
}

func (h *handlers) play(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.m.Play()
	return mcp.NewToolResultText("Playing."), nil
}

func (h *handlers) stop(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.m.Stop()
	return mcp.NewToolResultText("Stopped."), nil
}

func (h *handlers) panic(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.m.Panic()
	return mcp.NewToolResultText("All notes off sent."), nil
}

func (h *handlers) setTempo(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bpm, err := req.RequireFloat("bpm")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h.m.SetTempo(bpm)
	return mcp.NewToolResultText(fmt.Sprintf("Tempo is %.1f BPM.", h.m.State().Tempo)), nil
}

func (h *handlers) selectPattern(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := index(req, "pattern", pattern.NumPatterns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.m.SelectPattern(p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pattern %d selected.", p+1)), nil
}

func (h *handlers) appendChain(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := index(req, "pattern", pattern.NumPatterns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.m.AppendChain(p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chain: %v", oneBased(h.m.State().Chain))), nil
}

func (h *handlers) clearChain(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.m.ClearChain()
	return mcp.NewToolResultText("Chain cleared."), nil
}

func (h *handlers) setLoop(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loop, err := req.RequireBool("loop")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h.m.SetChainLoop(loop)
	return mcp.NewToolResultText(fmt.Sprintf("Chain loop %t.", loop)), nil
}

func (h *handlers) getPattern(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := index(req, "pattern", pattern.NumPatterns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(h.m.Store().Snapshot().Pattern(p))
}

func (h *handlers) toggleStep(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := index(req, "pattern", pattern.NumPatterns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := index(req, "step", pattern.NumSteps)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.m.Edit(func(s *pattern.Store) error { return s.Toggle(p, st) }); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	on := h.m.Store().Snapshot().Pattern(p).Steps[st].Active
	return mcp.NewToolResultText(fmt.Sprintf("Pattern %d step %d active: %t.", p+1, st+1, on)), nil
}

func (h *handlers) setParam(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := index(req, "pattern", pattern.NumPatterns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := index(req, "step", pattern.NumSteps)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := pattern.ParseField(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireInt("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	t := pattern.StepTarget(p, st, f)
	if f.OnNote() {
		t = pattern.NoteTarget(p, st, req.GetInt("note", 1)-1, f)
	}
	if err := h.m.Edit(func(s *pattern.Store) error { return s.Set(t, value) }); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	got, err := t.Get(h.m.Store().Snapshot().Pattern(p))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s = %d", t, got)), nil
}

func (h *handlers) setLength(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := index(req, "pattern", pattern.NumPatterns)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := req.RequireInt("length")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.m.Edit(func(s *pattern.Store) error { return s.SetLength(p, n) }); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pattern %d length %d.", p+1, h.m.Store().Snapshot().Pattern(p).Length)), nil
}

func (h *handlers) listOutputs(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.m.Outputs())
}

func (h *handlers) setOutput(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.m.SetOutput(req.GetString("id", ""))
	if ch := req.GetInt("channel", 0); ch != 0 {
		h.m.SetChannel(ch)
	}
	st := h.m.State()
	out := st.Output
	if out == "" {
		out = "first available output"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sending to %s on channel %d.", out, st.Channel)), nil
}

func (h *handlers) export(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		name = export.FileName(h.now())
	}
	path := filepath.Join(h.exportDir, filepath.Base(name))

	_, done := telemetry.Span(ctx, "export", path)
	n, err := export.WriteFile(path, h.m.ExportInput())
	done(err)
	if err != nil {
		telemetry.CaptureError(err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	debug.Log("mcp", "exported %s (%d bytes)", path, n)
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %s (%s).", path, humanize.Bytes(uint64(n)))), nil
}

func oneBased(idx []int) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = v + 1
	}
	return out
}
