package midi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanEmitsConnectAndDisconnect(t *testing.T) {
	d := newFakeDriver(synth)
	dm := NewDeviceManager(d)

	var lists [][]Port
	cancel := dm.Subscribe(func(p []Port) { lists = append(lists, p) })

	assert.True(t, dm.Scan())
	assert.False(t, dm.Scan(), "unchanged list is not a change")

	d.ports = []Port{drums}
	assert.True(t, dm.Scan())

	evs := []DeviceEvent{<-dm.Events(), <-dm.Events(), <-dm.Events()}
	assert.Equal(t, DeviceEvent{Type: DeviceConnected, Port: synth}, evs[0])
	assert.ElementsMatch(t, []DeviceEvent{
		{Type: DeviceConnected, Port: drums},
		{Type: DeviceDisconnected, Port: synth},
	}, evs[1:])

	assert.Equal(t, [][]Port{{synth}, {drums}}, lists)
	assert.Equal(t, []Port{drums}, dm.Ports())

	cancel()
	d.ports = nil
	dm.Scan()
	assert.Len(t, lists, 2)
}

func TestScanFeedsOutputRefresh(t *testing.T) {
	d := newFakeDriver()
	o := NewOutput(d)
	dm := NewDeviceManager(d)
	dm.Subscribe(o.Refresh)

	o.NoteOn("", 1, 60, 100) // nothing connected yet
	d.ports = []Port{synth}
	dm.Scan()
	o.NoteOn("", 1, 60, 100)

	assert.Len(t, d.sent["Synth"], 1)
}

type hangingDriver struct{ fakeDriver }

func (hangingDriver) Ports() []Port {
	time.Sleep(time.Second)
	return nil
}

func TestScanTimesOut(t *testing.T) {
	dm := NewDeviceManager(&hangingDriver{})
	dm.timeout = 10 * time.Millisecond
	assert.False(t, dm.Scan())
}

func TestRunClosesEventsOnCancel(t *testing.T) {
	dm := NewDeviceManager(newFakeDriver(synth))
	dm.SetPollRate(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		dm.Run(ctx)
		close(done)
	}()

	ev, ok := <-dm.Events()
	require.True(t, ok)
	assert.Equal(t, synth, ev.Port)

	cancel()
	<-done
	_, ok = <-dm.Events()
	assert.False(t, ok)
}
