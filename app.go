package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"stepgrid/config"
	"stepgrid/debug"
	"stepgrid/midi"
	"stepgrid/pattern"
	"stepgrid/sequencer"
	"stepgrid/telemetry"
	"stepgrid/tone"
)

// app is everything a command needs, built from flags and config.
type app struct {
	cfg     *config.Config
	manager *sequencer.Manager
	devices *midi.DeviceManager
	player  *tone.Player

	cancel      func()
	stopDevices func()
	flush       func()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// setup loads config, starts logging and telemetry, and builds a running
// engine on the system MIDI driver.
func setup(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if c.IsSet("tempo") {
		cfg.Tempo = sequencer.ClampTempo(c.Float64("tempo"))
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}

	if cfg.Debug || c.Bool("debug") {
		if err := debug.Enable(c.String("log")); err != nil {
			return nil, err
		}
	}
	flush, err := telemetry.Init(cfg.SentryDSN, version)
	if err != nil {
		debug.Log("main", "%v", err)
	}

	a := &app{cfg: cfg, flush: flush}

	var opts []pattern.Option
	opts = append(opts, pattern.WithGateUnit(cfg.Gate()))
	if sc, lock := cfg.ScaleLock(); lock {
		opts = append(opts, pattern.WithScaleLock(sc))
	}
	store := pattern.NewStore(opts...)

	out := midi.NewOutput(midi.System())
	var sink midi.Sink = out
	if cfg.Tone.Enabled {
		p, err := startTone(cfg.Tone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reference tone disabled: %v\n", err)
			debug.Log("tone", "%v", err)
		} else {
			a.player = p
			sink = midi.Multi(out, p)
		}
	}

	a.manager = sequencer.NewManager(sequencer.Options{
		Sink:      sink,
		Store:     store,
		Tempo:     cfg.Tempo,
		Channel:   cfg.Channel,
		Output:    cfg.Output,
		Policy:    cfg.VoicePolicy(),
		MacroCC:   [2]uint8{cfg.MacroCC.A, cfg.MacroCC.B},
		Poll:      cfg.Poll(),
		Lookahead: cfg.Lookahead(),
	})

	if path := c.String("bank"); path != "" {
		if err := loadBank(a.manager, path); err != nil {
			a.close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(c.Context)
	a.cancel = cancel

	a.devices = midi.NewDeviceManager(midi.System())
	a.devices.Subscribe(func(ports []midi.Port) {
		out.Refresh(ports)
		a.manager.OutputsChanged(ports)
	})
	go func() {
		for ev := range a.devices.Events() {
			debug.Log("device", "%s %s", ev.Type, ev.Port.Name)
		}
	}()
	a.stopDevices = startEngine(ctx, a.manager, a.devices)
	return a, nil
}

// startEngine starts the runtime before the device poller so port changes
// always land on a running timeline. The returned func stops the poller and
// waits for it; call it before closing the manager.
func startEngine(ctx context.Context, m *sequencer.Manager, dm *midi.DeviceManager) (stop func()) {
	m.StartRuntime(ctx)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dm.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func startTone(tc config.ToneConfig) (*tone.Player, error) {
	var r tone.Renderer = tone.NewSine()
	if tc.SoundFont != "" {
		sf, err := tone.LoadSoundFont(tc.SoundFont)
		if err != nil {
			return nil, err
		}
		r = sf
	}
	p := tone.NewPlayer(r, tc.Gain)
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

func loadBank(m *sequencer.Manager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open bank: %w", err)
	}
	defer f.Close()

	b, err := pattern.DecodeBank(f)
	if err != nil {
		return fmt.Errorf("bank %s: %w", path, err)
	}
	debug.Log("main", "loaded bank %s", path)
	return m.LoadBank(b)
}

// close stops hot-plug handling, then silences the output before anything
// else shuts down.
func (a *app) close() {
	if a.stopDevices != nil {
		a.stopDevices()
	}
	a.manager.Close()
	if a.cancel != nil {
		a.cancel()
	}
	if a.player != nil {
		a.player.Close()
	}
	a.flush()
	debug.Disable()
}
