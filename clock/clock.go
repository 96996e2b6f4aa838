// Package clock abstracts time so timers in the renderer throttle and the
// live data channel can be driven deterministically in tests.
//
// Clocks from github.com/benbjohnson/clock plug in through Wrap. Fake
// differs from that package's Mock in one way: timers fire on the
// goroutine calling Advance, in deadline order, and have returned by the
// time Advance does.
package clock

import (
	"sort"
	"sync"
	"time"

	bclock "github.com/benbjohnson/clock"
)

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer.
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
var Real Clock = Wrap(bclock.New())

// Wrap adapts c to Clock.
func Wrap(c bclock.Clock) Clock {
	return wrapped{c}
}

type wrapped struct {
	c bclock.Clock
}

func (w wrapped) Now() time.Time { return w.c.Now() }

func (w wrapped) AfterFunc(d time.Duration, f func()) Timer {
	return w.c.AfterFunc(d, f)
}

// Fake is a manually advanced clock. Timers fire synchronously from
// Advance, in deadline order, on the caller's goroutine.
type Fake struct {
	mu     sync.Mutex
	now    *bclock.Mock
	seq    int
	timers []*fakeTimer
}

func NewFake(start time.Time) *Fake {
	m := bclock.NewMock()
	m.Set(start)
	return &Fake{now: m}
}

type fakeTimer struct {
	c       *Fake
	when    time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (f *Fake) Now() time.Time {
	return f.now.Now()
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{c: f, when: f.now.Now().Add(d), seq: f.seq, f: fn}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending is the number of timers that have neither fired nor been
// stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every timer that becomes
// due. Timers scheduled by fired callbacks also fire if they fall within
// the advanced window.
func (f *Fake) Advance(d time.Duration) {
	end := f.now.Now().Add(d)
	for {
		f.mu.Lock()
		next := f.nextDueLocked(end)
		if next == nil {
			f.compactLocked()
			f.mu.Unlock()
			f.now.Set(end)
			return
		}
		next.fired = true
		fn := next.f
		f.mu.Unlock()
		if next.when.After(f.now.Now()) {
			f.now.Set(next.when)
		}
		fn()
	}
}

func (f *Fake) nextDueLocked(end time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired && !t.when.After(end) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	return due[0]
}

func (f *Fake) compactLocked() {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(f.timers); i++ {
		f.timers[i] = nil
	}
	f.timers = live
}
