package compositor

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"bytefi.sh/pkg/worldmap/clock"
)

// MonitorInterval is the default reporting period of a Monitor.
const MonitorInterval = time.Second

// FrameStats summarises the frames of one reporting window. Durations
// other than Window and PeakFrame are per-frame averages.
type FrameStats struct {
	Window        time.Duration
	Frames        int
	Skipped       int
	FPS           float64
	Frame         time.Duration
	PeakFrame     time.Duration
	TileLayer     time.Duration
	EntityLayer   time.Duration
	TilesPerFrame float64
}

func (s FrameStats) String() string {
	return fmt.Sprintf("%.0f fps, frame %v (peak %v), tiles %v (%.0f/frame), entities %v, %d skipped",
		s.FPS, s.Frame, s.PeakFrame, s.TileLayer, s.TilesPerFrame, s.EntityLayer, s.Skipped)
}

// Monitor collects frame timings from renderers and coalesced frames from
// a Throttle, and reports them once per interval, when a frame ends.
//
// A nil *Monitor records nothing; renderers call it unconditionally.
type Monitor struct {
	clock    clock.Clock
	interval time.Duration
	report   func(FrameStats)

	mu          sync.Mutex
	windowStart time.Time
	frames      int
	skipped     int
	tiles       int
	frameTime   time.Duration
	peak        time.Duration
	tileTime    time.Duration
	entityTime  time.Duration
}

// NewMonitor returns a monitor reporting every interval (MonitorInterval
// if zero) to report, or to glog at verbosity 1 if report is nil.
func NewMonitor(c clock.Clock, interval time.Duration, report func(FrameStats)) *Monitor {
	if c == nil {
		c = clock.Real
	}
	if interval <= 0 {
		interval = MonitorInterval
	}
	if report == nil {
		report = func(s FrameStats) {
			glog.V(1).Infof("compositor: %v", s)
		}
	}
	return &Monitor{clock: c, interval: interval, report: report, windowStart: c.Now()}
}

// FrameSample times one frame. Each layer call is charged the time since
// the previous call (or the start of the frame).
type FrameSample struct {
	m          *Monitor
	start, lap time.Time
	tiles      int
	tileTime   time.Duration
	entityTime time.Duration
}

// StartFrame begins timing a frame.
func (m *Monitor) StartFrame() *FrameSample {
	if m == nil {
		return &FrameSample{}
	}
	now := m.clock.Now()
	return &FrameSample{m: m, start: now, lap: now}
}

func (s *FrameSample) split() time.Duration {
	now := s.m.clock.Now()
	d := now.Sub(s.lap)
	s.lap = now
	return d
}

// TileLayer records the tile layer work, n being the number of tiles
// drawn.
func (s *FrameSample) TileLayer(n int) {
	if s.m == nil {
		return
	}
	s.tileTime += s.split()
	s.tiles += n
}

func (s *FrameSample) EntityLayer() {
	if s.m == nil {
		return
	}
	s.entityTime += s.split()
}

// End adds the frame to the window and reports the window if it is over.
func (s *FrameSample) End() {
	m := s.m
	if m == nil {
		return
	}
	now := m.clock.Now()
	d := now.Sub(s.start)

	m.mu.Lock()
	m.frames++
	m.tiles += s.tiles
	m.frameTime += d
	m.peak = max(m.peak, d)
	m.tileTime += s.tileTime
	m.entityTime += s.entityTime
	if now.Sub(m.windowStart) < m.interval {
		m.mu.Unlock()
		return
	}
	stats := m.statsLocked(now)
	m.resetLocked(now)
	m.mu.Unlock()

	m.report(stats)
}

// Skip counts a frame that was submitted but never drawn.
func (m *Monitor) Skip() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

// Current returns the statistics of the window in progress.
func (m *Monitor) Current() FrameStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked(m.clock.Now())
}

func (m *Monitor) statsLocked(now time.Time) FrameStats {
	s := FrameStats{
		Window:    now.Sub(m.windowStart),
		Frames:    m.frames,
		Skipped:   m.skipped,
		PeakFrame: m.peak,
	}
	if m.frames == 0 {
		return s
	}
	n := time.Duration(m.frames)
	s.Frame = m.frameTime / n
	s.TileLayer = m.tileTime / n
	s.EntityLayer = m.entityTime / n
	s.TilesPerFrame = float64(m.tiles) / float64(m.frames)
	if s.Window > 0 {
		s.FPS = float64(m.frames) / s.Window.Seconds()
	}
	return s
}

func (m *Monitor) resetLocked(now time.Time) {
	m.windowStart = now
	m.frames, m.skipped, m.tiles = 0, 0, 0
	m.frameTime, m.peak, m.tileTime, m.entityTime = 0, 0, 0, 0
}
