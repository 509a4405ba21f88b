package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stepgrid/debug"
	"stepgrid/pattern"
	"stepgrid/sequencer"
	"stepgrid/voice"
)

// ErrUnknownFormat is returned for config files that are neither JSON nor YAML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// ScaleConfig selects the scale pitch edits snap to
type ScaleConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Root int    `json:"root" yaml:"root"`
	Lock bool   `json:"lock" yaml:"lock"`
}

// ToneConfig controls the built-in reference tone
type ToneConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	SoundFont string  `json:"soundfont,omitempty" yaml:"soundfont,omitempty"`
	Gain      float64 `json:"gain,omitempty" yaml:"gain,omitempty"`
}

// MacroConfig holds the controller numbers macroA and macroB are sent on
type MacroConfig struct {
	A uint8 `json:"a" yaml:"a"`
	B uint8 `json:"b" yaml:"b"`
}

// Config is the main configuration structure
type Config struct {
	Output      string      `json:"output,omitempty" yaml:"output,omitempty"`
	Channel     int         `json:"channel" yaml:"channel"`
	Tempo       float64     `json:"tempo" yaml:"tempo"`
	GateUnit    string      `json:"gateUnit,omitempty" yaml:"gateUnit,omitempty"`
	Policy      string      `json:"policy,omitempty" yaml:"policy,omitempty"`
	PollMs      int         `json:"pollMs" yaml:"pollMs"`
	LookaheadMs int         `json:"lookaheadMs" yaml:"lookaheadMs"`
	MacroCC     MacroConfig `json:"macroCC" yaml:"macroCC"`
	Scale       ScaleConfig `json:"scale" yaml:"scale"`
	Tone        ToneConfig  `json:"tone" yaml:"tone"`
	Debug       bool        `json:"debug,omitempty" yaml:"debug,omitempty"`
	SentryDSN   string      `json:"sentryDsn,omitempty" yaml:"sentryDsn,omitempty"`
	Palette     string      `json:"palette,omitempty" yaml:"palette,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Channel:     1,
		Tempo:       sequencer.DefaultTempo,
		GateUnit:    pattern.GatePercent.String(),
		Policy:      voice.Poly.String(),
		PollMs:      int(sequencer.DefaultPoll / time.Millisecond),
		LookaheadMs: int(sequencer.DefaultLookahead / time.Millisecond),
		MacroCC:     MacroConfig{A: 20, B: 21},
		Scale:       ScaleConfig{Name: "chromatic"},
		Tone:        ToneConfig{Gain: 1},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "stepgrid"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// LoadFile reads a .json, .yaml or .yml config. Fields missing from the file
// keep their defaults; the result is normalized.
func LoadFile(path string) (*Config, error) {
	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		unmarshal = json.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config as indented JSON, creating the directory.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Normalize replaces every invalid value with the nearest valid one, or the
// default when there is none. Bad input is never an error.
func (c *Config) Normalize() {
	d := DefaultConfig()

	c.Channel = sequencer.ClampChannel(c.Channel)
	c.Tempo = sequencer.ClampTempo(c.Tempo)

	if u, err := pattern.ParseGateUnit(c.GateUnit); err != nil {
		debug.Log("config", "%v, using %s", err, d.GateUnit)
		c.GateUnit = d.GateUnit
	} else {
		c.GateUnit = u.String()
	}
	if p, err := voice.ParsePolicy(c.Policy); err != nil {
		debug.Log("config", "%v, using %s", err, d.Policy)
		c.Policy = d.Policy
	} else {
		c.Policy = p.String()
	}

	if c.PollMs <= 0 || c.LookaheadMs <= 0 || c.PollMs >= c.LookaheadMs {
		debug.Log("config", "poll %dms must be below lookahead %dms, using defaults", c.PollMs, c.LookaheadMs)
		c.PollMs, c.LookaheadMs = d.PollMs, d.LookaheadMs
	}

	c.MacroCC.A = min(c.MacroCC.A, 127)
	c.MacroCC.B = min(c.MacroCC.B, 127)
	if c.MacroCC.A == c.MacroCC.B {
		c.MacroCC = d.MacroCC
	}

	if _, err := pattern.NewScale(c.Scale.Name, c.Scale.Root); err != nil {
		debug.Log("config", "%v, using chromatic", err)
		c.Scale = d.Scale
	}
	c.Scale.Root = ((c.Scale.Root % 12) + 12) % 12

	if c.Tone.Gain <= 0 || c.Tone.Gain > 4 {
		c.Tone.Gain = d.Tone.Gain
	}
}

// Gate returns the parsed gate unit.
func (c *Config) Gate() pattern.GateUnit {
	u, _ := pattern.ParseGateUnit(c.GateUnit)
	return u
}

// VoicePolicy returns the parsed voice policy.
func (c *Config) VoicePolicy() voice.Policy {
	p, _ := voice.ParsePolicy(c.Policy)
	return p
}

// ScaleLock returns the scale and whether pitch edits snap to it.
func (c *Config) ScaleLock() (pattern.Scale, bool) {
	sc, err := pattern.NewScale(c.Scale.Name, c.Scale.Root)
	if err != nil {
		return pattern.Chromatic(), false
	}
	return sc, c.Scale.Lock
}

func (c *Config) Poll() time.Duration {
	return time.Duration(c.PollMs) * time.Millisecond
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.LookaheadMs) * time.Millisecond
}
