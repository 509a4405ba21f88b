package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepgrid/pattern"
	"stepgrid/voice"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreNormal(t *testing.T) {
	c := DefaultConfig()
	n := *c
	n.Normalize()
	assert.Equal(t, *c, n)
	assert.Equal(t, 25*time.Millisecond, c.Poll())
	assert.Equal(t, 100*time.Millisecond, c.Lookahead())
}

func TestLoadJSONKeepsMissingDefaults(t *testing.T) {
	path := write(t, "config.json", `{"output":"Synth","channel":10,"tempo":90}`)
	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "Synth", c.Output)
	assert.Equal(t, 10, c.Channel)
	assert.Equal(t, 90.0, c.Tempo)
	assert.Equal(t, "percent", c.GateUnit)
	assert.Equal(t, MacroConfig{A: 20, B: 21}, c.MacroCC)
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "config.yml", `
gateUnit: steps
policy: mono
scale:
  name: minor
  root: 2
  lock: true
tone:
  enabled: true
  gain: 0.5
`)
	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, pattern.GateSteps, c.Gate())
	assert.Equal(t, voice.Mono, c.VoicePolicy())
	sc, lock := c.ScaleLock()
	assert.True(t, lock)
	assert.Equal(t, "D minor", sc.String())
	assert.True(t, c.Tone.Enabled)
	assert.Equal(t, 0.5, c.Tone.Gain)
}

func TestNormalizeRecoversBadValues(t *testing.T) {
	c := &Config{
		Channel:     42,
		Tempo:       math.Inf(1),
		GateUnit:    "furlongs",
		Policy:      "duo",
		PollMs:      150,
		LookaheadMs: 100,
		MacroCC:     MacroConfig{A: 200, B: 200},
		Scale:       ScaleConfig{Name: "lydian-ish", Root: -1},
		Tone:        ToneConfig{Gain: -2},
	}
	c.Normalize()

	assert.Equal(t, 16, c.Channel)
	assert.Equal(t, 120.0, c.Tempo)
	assert.Equal(t, "percent", c.GateUnit)
	assert.Equal(t, "poly", c.Policy)
	assert.Equal(t, 25, c.PollMs)
	assert.Equal(t, 100, c.LookaheadMs)
	assert.Equal(t, MacroConfig{A: 20, B: 21}, c.MacroCC)
	assert.Equal(t, "chromatic", c.Scale.Name)
	assert.Equal(t, 1.0, c.Tone.Gain)
}

func TestScaleRootWraps(t *testing.T) {
	c := DefaultConfig()
	c.Scale = ScaleConfig{Name: "major", Root: 14}
	c.Normalize()
	assert.Equal(t, 2, c.Scale.Root)
}

func TestUnknownFormat(t *testing.T) {
	_, err := LoadFile(write(t, "config.toml", "tempo = 1"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBrokenFile(t *testing.T) {
	_, err := LoadFile(write(t, "config.json", `{"tempo": "fast"`))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	c := DefaultConfig()
	c.Output = "IAC Driver Bus 1"
	c.Scale = ScaleConfig{Name: "dorian", Root: 9, Lock: true}
	require.NoError(t, c.SaveFile(path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestLoadUsesHomeConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)

	c.Tempo = 140
	require.NoError(t, c.Save())
	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 140.0, got.Tempo)
}
