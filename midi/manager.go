package midi

import (
	"context"
	"sync"
	"time"

	"stepgrid/debug"
	"stepgrid/telemetry"
)

// DeviceEvent is emitted when outputs connect/disconnect
type DeviceEvent struct {
	Type DeviceEventType
	Port Port
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

func (t DeviceEventType) String() string {
	if t == DeviceDisconnected {
		return "disconnected"
	}
	return "connected"
}

// DeviceManager handles hot-plug detection of MIDI outputs
type DeviceManager struct {
	driver   Driver
	ports    []Port
	known    map[string]bool
	mu       sync.RWMutex
	events   chan DeviceEvent
	pollRate time.Duration
	timeout  time.Duration

	subsMu  sync.Mutex
	subs    map[int]func([]Port)
	nextSub int
}

// NewDeviceManager creates a new device manager polling d (System() if nil)
func NewDeviceManager(d Driver) *DeviceManager {
	if d == nil {
		d = System()
	}
	return &DeviceManager{
		driver:   d,
		known:    make(map[string]bool),
		events:   make(chan DeviceEvent, 16),
		pollRate: time.Second,
		timeout:  3 * time.Second,
		subs:     make(map[int]func([]Port)),
	}
}

// SetPollRate changes how often the port list is scanned
func (dm *DeviceManager) SetPollRate(d time.Duration) {
	if d > 0 {
		dm.pollRate = d
	}
}

// Events returns a channel of device connect/disconnect events. Events are
// dropped when nobody keeps up with the channel.
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Ports returns the port list from the last scan
func (dm *DeviceManager) Ports() []Port {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return append([]Port(nil), dm.ports...)
}

// Subscribe calls fn with the full port list after every scan that changed
// it. The returned func removes the subscription.
func (dm *DeviceManager) Subscribe(fn func([]Port)) (cancel func()) {
	dm.subsMu.Lock()
	id := dm.nextSub
	dm.nextSub++
	dm.subs[id] = fn
	dm.subsMu.Unlock()

	return func() {
		dm.subsMu.Lock()
		delete(dm.subs, id)
		dm.subsMu.Unlock()
	}
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.Scan()

	for {
		select {
		case <-ctx.Done():
			close(dm.events)
			return
		case <-ticker.C:
			dm.Scan()
		}
	}
}

// Scan queries the driver once and reports whether the port list changed.
func (dm *DeviceManager) Scan() bool {
	// Get current MIDI ports with timeout (CoreMIDI can hang)
	ch := make(chan []Port, 1)
	go func() {
		ch <- dm.driver.Ports()
	}()

	var ports []Port
	select {
	case ports = <-ch:
	case <-time.After(dm.timeout):
		debug.Log("device", "port scan timed out after %s", dm.timeout)
		return false
	}

	seen := make(map[string]bool, len(ports))
	var changes []DeviceEvent

	dm.mu.Lock()
	for _, p := range ports {
		seen[p.ID] = true
		if !dm.known[p.ID] {
			changes = append(changes, DeviceEvent{Type: DeviceConnected, Port: p})
		}
	}
	for _, p := range dm.ports {
		if !seen[p.ID] {
			changes = append(changes, DeviceEvent{Type: DeviceDisconnected, Port: p})
		}
	}
	dm.ports = ports
	dm.known = seen
	dm.mu.Unlock()

	if len(changes) == 0 {
		return false
	}

	for _, ev := range changes {
		debug.Log("device", "%s %q", ev.Type, ev.Port.ID)
		telemetry.Breadcrumb("device", ev.Type.String(), map[string]any{"port": ev.Port.ID})
		select {
		case dm.events <- ev:
		default:
		}
	}

	dm.subsMu.Lock()
	subs := make([]func([]Port), 0, len(dm.subs))
	for _, fn := range dm.subs {
		subs = append(subs, fn)
	}
	dm.subsMu.Unlock()
	for _, fn := range subs {
		fn(append([]Port(nil), ports...))
	}
	return true
}
