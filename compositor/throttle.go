package compositor

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"bytefi.sh/pkg/worldmap/clock"
)

// FrameInterval is the target time between frames (about 60 Hz).
const FrameInterval = 16 * time.Millisecond

// Throttle coalesces frame submissions. At most one draw happens per
// interval; a submission that arrives while a draw is pending replaces the
// pending frame. Nothing is queued.
type Throttle struct {
	clock    clock.Clock
	interval time.Duration
	draw     func(*Frame)

	mu      sync.Mutex
	monitor *Monitor
	pending *Frame
	timer   clock.Timer
	last    time.Time
	stopped bool

	drawMu sync.Mutex
	drawn  int
}

// NewThrottle calls draw with the latest submitted frame at most once per
// interval. A zero interval means FrameInterval.
func NewThrottle(c clock.Clock, interval time.Duration, draw func(*Frame)) *Throttle {
	if c == nil {
		c = clock.Real
	}
	if interval <= 0 {
		interval = FrameInterval
	}
	return &Throttle{clock: c, interval: interval, draw: draw}
}

// Submit offers f for drawing. It never blocks on a draw.
func (t *Throttle) Submit(f *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.pending != nil {
		glog.V(3).Infof("compositor: coalesced frame")
		t.monitor.Skip()
	}
	t.pending = f
	if t.timer != nil {
		return
	}
	delay := t.last.Add(t.interval).Sub(t.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t.timer = t.clock.AfterFunc(delay, t.fire)
}

func (t *Throttle) fire() {
	t.mu.Lock()
	f := t.pending
	t.pending = nil
	t.timer = nil
	if t.stopped || f == nil {
		t.mu.Unlock()
		return
	}
	t.last = t.clock.Now()
	t.mu.Unlock()

	t.drawMu.Lock()
	defer t.drawMu.Unlock()
	// Stop may have run between the two locks.
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.draw(f)
	t.drawn++
}

// SetMonitor counts frames replaced before they were drawn as skipped
// frames of m.
func (t *Throttle) SetMonitor(m *Monitor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.monitor = m
}

// Drawn is the number of frames actually drawn.
func (t *Throttle) Drawn() int {
	t.drawMu.Lock()
	defer t.drawMu.Unlock()
	return t.drawn
}

// Stop cancels any pending draw and rejects further submissions. It waits
// for a draw in progress to finish. Safe to call more than once.
func (t *Throttle) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.drawMu.Lock()
	t.drawMu.Unlock()
}
