package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"stepgrid/debug"
	"stepgrid/telemetry"
)

const noOutputsKey = "midi-no-outputs"

// Driver lists and opens output ports.
type Driver interface {
	Ports() []Port
	Open(id string) (func(gomidi.Message) error, error)
}

// System returns the driver backed by the registered gomidi driver (rtmidi).
func System() Driver {
	return systemDriver{}
}

type systemDriver struct{}

func (systemDriver) Ports() []Port {
	return portsOf(gomidi.GetOutPorts())
}

func (systemDriver) Open(id string) (func(gomidi.Message) error, error) {
	outs := gomidi.GetOutPorts()
	for i, p := range portsOf(outs) {
		if p.ID == id {
			sender, err := gomidi.SendTo(outs[i])
			if err != nil {
				return nil, fmt.Errorf("failed to open port %q: %w", id, err)
			}
			return sender, nil
		}
	}
	return nil, fmt.Errorf("port %q not found", id)
}

// portsOf names ports by their driver name, suffixing duplicates with #n so
// ids stay unique.
func portsOf(outs []drivers.Out) []Port {
	seen := make(map[string]int, len(outs))
	ports := make([]Port, 0, len(outs))
	for _, out := range outs {
		name := out.String()
		seen[name]++
		id := name
		if n := seen[name]; n > 1 {
			id = fmt.Sprintf("%s#%d", name, n)
		}
		ports = append(ports, Port{ID: id, Name: name})
	}
	return ports
}

// Output is a Sink that transmits to real MIDI ports.
type Output struct {
	driver Driver

	mu      sync.Mutex
	ports   []Port
	listed  bool
	senders map[string]func(gomidi.Message) error
	broken  map[string]bool // ports that failed to open; retried after Refresh
}

// NewOutput creates an output sink on d (System() if nil).
func NewOutput(d Driver) *Output {
	if d == nil {
		d = System()
	}
	return &Output{
		driver:  d,
		senders: make(map[string]func(gomidi.Message) error),
		broken:  make(map[string]bool),
	}
}

// Outputs returns the known ports. The driver is asked once; after that the
// list changes only through Refresh.
func (o *Output) Outputs() []Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list()
	return append([]Port(nil), o.ports...)
}

func (o *Output) list() {
	if !o.listed {
		o.ports = o.driver.Ports()
		o.listed = true
	}
}

// Refresh installs a new port list and drops senders whose port is gone.
// Used as a DeviceManager subscriber.
func (o *Output) Refresh(ports []Port) {
	o.mu.Lock()
	defer o.mu.Unlock()

	live := make(map[string]bool, len(ports))
	for _, p := range ports {
		live[p.ID] = true
	}
	for id := range o.senders {
		if !live[id] {
			delete(o.senders, id)
		}
	}
	for id := range o.broken {
		debug.Rearm(openFailedKey(id))
	}
	clear(o.broken)
	o.ports = append([]Port(nil), ports...)
	o.listed = true
	if len(ports) > 0 {
		debug.Rearm(noOutputsKey)
	}
}

// Resolve returns the port a call with this id would go to.
func (o *Output) Resolve(id string) (Port, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resolve(id)
}

func (o *Output) resolve(id string) (Port, bool) {
	o.list()
	if len(o.ports) == 0 {
		return Port{}, false
	}
	for _, p := range o.ports {
		if p.ID == id {
			return p, true
		}
	}
	return o.ports[0], true
}

func openFailedKey(id string) string {
	return "midi-open-failed:" + id
}

// getSender returns a sender for the port, lazily opening it
func (o *Output) getSender(id string) (string, func(gomidi.Message) error) {
	port, ok := o.resolve(id)
	if !ok {
		if debug.Once(noOutputsKey, "midi", "no MIDI outputs available, dropping messages") {
			telemetry.DeviceUnavailable("no outputs")
		}
		return "", nil
	}
	if sender, ok := o.senders[port.ID]; ok {
		return port.ID, sender
	}
	if o.broken[port.ID] {
		return port.ID, nil
	}
	sender, err := o.driver.Open(port.ID)
	if err != nil {
		o.broken[port.ID] = true
		if debug.Once(openFailedKey(port.ID), "midi", "open %s: %v, dropping messages until the port list changes", port.ID, err) {
			telemetry.DeviceUnavailable(port.ID)
		}
		return port.ID, nil
	}
	o.senders[port.ID] = sender
	return port.ID, sender
}

func (o *Output) send(id string, msgs ...gomidi.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	portID, sender := o.getSender(id)
	if sender == nil {
		return
	}
	for _, msg := range msgs {
		if err := sender(msg); err != nil {
			// the port may have vanished; reopen on the next call
			delete(o.senders, portID)
			debug.Log("midi", "send to %s failed: %v", portID, err)
			telemetry.Breadcrumb("midi", "send failed", map[string]any{"port": portID, "error": err.Error()})
			return
		}
	}
}

func (o *Output) NoteOn(output string, channel int, pitch, velocity uint8) {
	o.send(output, gomidi.NoteOn(ProtocolChannel(channel), pitch&0x7f, velocity&0x7f))
}

func (o *Output) NoteOff(output string, channel int, pitch uint8) {
	o.send(output, gomidi.NoteOff(ProtocolChannel(channel), pitch&0x7f))
}

func (o *Output) ControlChange(output string, channel int, controller, value uint8) {
	o.send(output, gomidi.ControlChange(ProtocolChannel(channel), controller&0x7f, value&0x7f))
}

// AllNotesOff sends all-notes-off followed by all-sound-off.
func (o *Output) AllNotesOff(output string, channel int) {
	ch := ProtocolChannel(channel)
	o.send(output,
		gomidi.ControlChange(ch, CCAllNotesOff, 0),
		gomidi.ControlChange(ch, CCAllSoundOff, 0),
	)
}
