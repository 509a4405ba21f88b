// Package timeline runs every piece of engine work on one goroutine.
//
// Deferred callbacks (scheduler polls, note triggers, release timers) and
// closures posted from other goroutines (UI edits, tempo changes, hot-plug
// notifications) are executed one at a time, in time order, so the engine
// state they touch needs no locking.
package timeline

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"
)

// idleWait is how long Run sleeps when nothing is scheduled. Posted work
// wakes it earlier.
const idleWait = time.Hour

// Timer is a deferred callback registered with After.
type Timer struct {
	at    time.Duration
	seq   uint64
	fn    func()
	index int
}

// Stop cancels the timer. It reports whether the call prevented the callback
// from running. Stopping is O(1): the queue entry is skipped when it comes up.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.fn == nil {
		return false
	}
	tm.fn = nil
	return true
}

// When returns the time the timer is due.
func (tm *Timer) When() time.Duration {
	return tm.at
}

// session is one active Run; done closes when it returns.
type session struct {
	done chan struct{}
}

// Timeline is a single-goroutine executor for timed and posted work.
type Timeline struct {
	clock  Clock
	queue  timerQueue
	seq    uint64
	posted chan func()

	active atomic.Pointer[session]

	overrunAfter time.Duration
	onOverrun    func(late time.Duration)
}

// New creates a timeline on the given clock. A nil clock means System().
func New(clock Clock) *Timeline {
	if clock == nil {
		clock = System()
	}
	return &Timeline{
		clock:  clock,
		posted: make(chan func(), 64),
	}
}

// Now returns the current time on the timeline's clock.
func (t *Timeline) Now() time.Duration {
	return t.clock.Now()
}

// OnOverrun installs a handler called when a callback runs more than
// threshold after its due time. The callback still runs.
func (t *Timeline) OnOverrun(threshold time.Duration, fn func(late time.Duration)) {
	t.overrunAfter = threshold
	t.onOverrun = fn
}

// After schedules fn to run d from now. A negative or zero d means as soon
// as possible. Must be called from timeline work (or before Run starts).
func (t *Timeline) After(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	return t.At(t.clock.Now()+d, fn)
}

// At schedules fn at an absolute clock time. Callbacks due at the same
// instant run in the order they were scheduled.
func (t *Timeline) At(at time.Duration, fn func()) *Timer {
	t.seq++
	tm := &Timer{at: at, seq: t.seq, fn: fn}
	heap.Push(&t.queue, tm)
	return tm
}

// Pending returns the number of timers that have not fired or been stopped.
func (t *Timeline) Pending() int {
	n := 0
	for _, tm := range t.queue {
		if tm.fn != nil {
			n++
		}
	}
	return n
}

// Running reports whether Run is active.
func (t *Timeline) Running() bool {
	return t.active.Load() != nil
}

// Do posts fn to run on the timeline. It never blocks the caller for long;
// when Run is not active fn runs immediately on the caller's goroutine.
func (t *Timeline) Do(fn func()) {
	if !t.Running() {
		fn()
		return
	}
	t.posted <- fn
}

// Call posts fn and waits until it has run. If Run returns before taking
// fn, Call runs it on the caller's goroutine instead.
func (t *Timeline) Call(ctx context.Context, fn func()) error {
	r := t.active.Load()
	if r == nil {
		fn()
		return nil
	}
	var claimed atomic.Bool
	done := make(chan struct{})
	job := func() {
		if claimed.CompareAndSwap(false, true) {
			fn()
			close(done)
		}
	}
	select {
	case t.posted <- job:
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.done:
		if claimed.CompareAndSwap(false, true) {
			fn()
			return nil
		}
		// the exit drain has it
		<-done
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes timers and posted work until ctx is cancelled. Only one Run
// may be active at a time.
func (t *Timeline) Run(ctx context.Context) error {
	r := &session{done: make(chan struct{})}
	t.active.Store(r)
	defer t.exit(r)

	wait := time.NewTimer(idleWait)
	defer wait.Stop()

	for {
		t.runDue(t.clock.Now())

		next := idleWait
		if tm := t.peek(); tm != nil {
			next = tm.at - t.clock.Now()
		}
		wait.Reset(next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-t.posted:
			fn()
		case <-wait.C:
		}
	}
}

// exit marks the timeline stopped and runs whatever was posted before that.
func (t *Timeline) exit(r *session) {
	t.active.Store(nil)
	close(r.done)
	for {
		select {
		case fn := <-t.posted:
			fn()
		default:
			return
		}
	}
}

// Advance moves a Manual clock forward by d, running every callback that
// comes due on the way with the clock set to that callback's due time.
func (t *Timeline) Advance(d time.Duration) {
	m, ok := t.clock.(*Manual)
	if !ok {
		panic("timeline: Advance needs a *Manual clock")
	}
	target := m.Now() + d
	for {
		tm := t.peek()
		if tm == nil || tm.at > target {
			break
		}
		heap.Pop(&t.queue)
		m.Set(tm.at)
		t.fire(tm, m.Now())
	}
	m.Set(target)
}

func (t *Timeline) runDue(now time.Duration) {
	for {
		tm := t.peek()
		if tm == nil || tm.at > now {
			return
		}
		heap.Pop(&t.queue)
		t.fire(tm, now)
	}
}

func (t *Timeline) fire(tm *Timer, now time.Duration) {
	fn := tm.fn
	tm.fn = nil
	if late := now - tm.at; t.onOverrun != nil && t.overrunAfter > 0 && late > t.overrunAfter {
		t.onOverrun(late)
	}
	fn()
}

// peek returns the earliest live timer, discarding stopped ones.
func (t *Timeline) peek() *Timer {
	for len(t.queue) > 0 {
		tm := t.queue[0]
		if tm.fn != nil {
			return tm
		}
		heap.Pop(&t.queue)
	}
	return nil
}

type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	tm := x.(*Timer)
	tm.index = len(*q)
	*q = append(*q, tm)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	tm := old[n-1]
	old[n-1] = nil
	tm.index = -1
	*q = old[:n-1]
	return tm
}
