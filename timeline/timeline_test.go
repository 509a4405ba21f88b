package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceRunsInTimeOrder(t *testing.T) {
	tl := New(&Manual{})
	var got []string
	var at []time.Duration

	tl.After(30*time.Millisecond, func() { got = append(got, "c"); at = append(at, tl.Now()) })
	tl.After(10*time.Millisecond, func() { got = append(got, "a"); at = append(at, tl.Now()) })
	tl.After(10*time.Millisecond, func() { got = append(got, "b"); at = append(at, tl.Now()) })

	tl.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)

	tl.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond}, at)
	assert.Equal(t, 40*time.Millisecond, tl.Now())
}

func TestStopPreventsCallback(t *testing.T) {
	tl := New(&Manual{})
	fired := 0
	tm := tl.After(5*time.Millisecond, func() { fired++ })

	assert.Equal(t, 1, tl.Pending())
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	assert.Equal(t, 0, tl.Pending())

	tl.Advance(time.Second)
	assert.Equal(t, 0, fired)
}

func TestStopAfterFireReportsFalse(t *testing.T) {
	tl := New(&Manual{})
	tm := tl.After(time.Millisecond, func() {})
	tl.Advance(time.Millisecond)
	assert.False(t, tm.Stop())
}

func TestCallbackCanScheduleDueWork(t *testing.T) {
	tl := New(&Manual{})
	var order []int
	tl.After(0, func() {
		order = append(order, 1)
		tl.After(0, func() { order = append(order, 2) })
	})
	tl.Advance(0)
	assert.Equal(t, []int{1, 2}, order)
}

func TestNegativeDelayFiresImmediately(t *testing.T) {
	tl := New(&Manual{})
	fired := false
	tl.After(-50*time.Millisecond, func() { fired = true })
	tl.Advance(0)
	assert.True(t, fired)
}

func TestOverrunHandler(t *testing.T) {
	clock := &Manual{}
	tl := New(clock)
	var late []time.Duration
	tl.OnOverrun(5*time.Millisecond, func(d time.Duration) { late = append(late, d) })

	tl.After(10*time.Millisecond, func() {})
	clock.Set(40 * time.Millisecond)
	tl.runDue(clock.Now())

	require.Len(t, late, 1)
	assert.Equal(t, 30*time.Millisecond, late[0])
}

func TestRunExecutesPostedAndTimedWork(t *testing.T) {
	tl := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go tl.Run(ctx)

	require.Eventually(t, tl.Running, time.Second, time.Millisecond)

	err := tl.Call(ctx, func() {
		tl.After(5*time.Millisecond, func() { close(done) })
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timer did not fire")
	}
}

func TestCallWithoutRunExecutesInline(t *testing.T) {
	tl := New(&Manual{})
	ran := false
	require.NoError(t, tl.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestCallReturnsWhenRunExitsWithWorkQueued(t *testing.T) {
	tl := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		tl.Run(ctx)
		close(exited)
	}()
	require.Eventually(t, tl.Running, time.Second, time.Millisecond)

	// hold the loop so the Call below is queued behind it
	release := make(chan struct{})
	tl.Do(func() { <-release })

	ran := make(chan struct{})
	returned := make(chan error, 1)
	go func() {
		returned <- tl.Call(context.Background(), func() { close(ran) })
	}()
	require.Eventually(t, func() bool { return len(tl.posted) == 1 }, time.Second, time.Millisecond)

	cancel()
	close(release)

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Call hung after Run exited")
	}
	<-exited
	select {
	case <-ran:
	default:
		t.Fatal("posted work was dropped")
	}
}

func TestCallAfterRunExitedRunsInline(t *testing.T) {
	tl := New(&Manual{})
	// a caller that saw Run active just before it returned
	r := &session{done: make(chan struct{})}
	tl.active.Store(r)
	close(r.done)

	ran := 0
	require.NoError(t, tl.Call(context.Background(), func() { ran++ }))
	assert.Equal(t, 1, ran)

	// a copy left in the queue must not run a second time
	for len(tl.posted) > 0 {
		(<-tl.posted)()
	}
	assert.Equal(t, 1, ran)
}
