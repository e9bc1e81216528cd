package giveaways

import (
	"context"
	"sync"
	"time"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return stopper{c: c, t: t}
}

type stopper struct {
	c *fakeClock
	t *fakeTimer
}

func (s stopper) Stop() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	was := !s.t.stopped
	s.t.stopped = true
	return was
}

// fire runs timer i even if it was stopped, the way a timer that already
// started running races a Stop call.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	f := c.timers[i].f
	c.mu.Unlock()
	f()
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func fixedRand(v int64) RandInt {
	return func(n int64) (int64, error) { return v % n, nil }
}

type outcomes struct {
	mu  sync.Mutex
	got []Outcome
}

func (o *outcomes) settle(_ context.Context, out Outcome) {
	o.mu.Lock()
	o.got = append(o.got, out)
	o.mu.Unlock()
}

func (o *outcomes) all() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.got...)
}
