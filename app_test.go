package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"

	"stepgrid/midi"
	"stepgrid/midi/miditest"
	"stepgrid/pattern"
	"stepgrid/sequencer"
)

type stubDriver struct{ ports []midi.Port }

func (d stubDriver) Ports() []midi.Port { return d.ports }

func (stubDriver) Open(string) (func(gomidi.Message) error, error) {
	return func(gomidi.Message) error { return nil }, nil
}

func TestEngineStartsRuntimeBeforeDevices(t *testing.T) {
	m := sequencer.NewManager(sequencer.Options{Sink: &miditest.Recorder{}, Store: pattern.NewStore()})
	t.Cleanup(m.Close)
	dm := midi.NewDeviceManager(stubDriver{ports: []midi.Port{{ID: "Synth", Name: "Synth"}}})

	var mu sync.Mutex
	var runtimeUp []bool
	dm.Subscribe(func(ports []midi.Port) {
		mu.Lock()
		runtimeUp = append(runtimeUp, m.Running())
		mu.Unlock()
		m.OutputsChanged(ports)
	})

	stop := startEngine(context.Background(), m, dm)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runtimeUp) > 0
	}, 2*time.Second, 5*time.Millisecond)

	stop()
	for range dm.Events() {
		// closed once the poller has returned
	}
	mu.Lock()
	assert.Equal(t, []bool{true}, runtimeUp, "port changes are handled on a running timeline")
	mu.Unlock()
	assert.True(t, m.Running(), "the runtime outlives the device poller")

	m.Close()
	assert.False(t, m.Running())
}
