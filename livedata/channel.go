// Package livedata keeps the latest snapshot of players and locations
// flowing from a server.
//
// A Channel streams snapshots over a websocket. When the stream drops it
// reconnects with exponential backoff; after MaxAttempts consecutive
// failures it gives up on streaming for good and polls the HTTP API on a
// fixed interval instead. Consumers read one View holding the status,
// the latest complete snapshot and the last error.
package livedata

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/trace"

	"bytefi.sh/pkg/worldmap/clock"
	"bytefi.sh/pkg/worldmap/gameworld"
)

type Config struct {
	// URL of the websocket stream, e.g. wss://host/ws.
	URL string
	// MaxAttempts consecutive failures switch the channel to polling.
	MaxAttempts int
	// Reconnect delays are Base*2^attempts, capped at Ceiling.
	Base    time.Duration
	Ceiling time.Duration
	// PollInterval is the period of fallback polling.
	PollInterval time.Duration
	// StaleAfter, when positive, makes Status report Error while polling
	// if no snapshot has arrived for that long.
	StaleAfter time.Duration

	Dialer Dialer
	// Source is polled in fallback mode. Nil means an HTTPSource on the
	// host of URL.
	Source Source
	Clock  clock.Clock
	// OnChange, if set, is called from the channel's goroutine with every
	// published view. It must not block or call Close.
	OnChange func(View)
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		Base:         time.Second,
		Ceiling:      30 * time.Second,
		PollInterval: 15 * time.Second,
		Dialer:       &WebsocketDialer{},
		Clock:        clock.Real,
	}
}

// View is an immutable picture of the channel.
type View struct {
	Status Status
	// Snapshot is the most recent complete snapshot, or nil before the
	// first one.
	Snapshot *gameworld.Snapshot
	// Err is the last transport, parse or poll error. A successful open or
	// poll clears it.
	Err      error
	Attempts int
	// RetryIn is the delay of the pending reconnect, if Reconnecting.
	RetryIn time.Duration
	// Updated is when Snapshot was received.
	Updated time.Time
	// Since is when Status was entered.
	Since time.Time
}

// Live reports whether data is flowing, by stream or by polling.
func (v View) Live() bool {
	return v.Status == Connected || v.Status == Fallback
}

// Loop-only events, handled outside the transition table.
const (
	evMessage eventKind = iota + 100
	evPollDue
	evPollDone
)

type event struct {
	kind eventKind
	id   uint64
	conn Conn
	data []byte
	snap *gameworld.Snapshot
	err  error
}

type Channel struct {
	cfg Config
	tr  trace.EventLog

	view   atomic.Pointer[View]
	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	subsMu sync.Mutex
	subs   []chan View
	closed bool

	// Owned by the loop goroutine.
	m           machine
	conn        Conn
	connID      uint64
	reconnect   clock.Timer
	reconnectID uint64
	pollTimer   clock.Timer
	polling     bool
	snapshot    *gameworld.Snapshot
	err         error
	retryIn     time.Duration
	updated     time.Time
	since       time.Time
	status      Status
}

// New starts a channel and its first connection attempt. Zero fields of
// cfg take their DefaultConfig values.
func New(cfg Config) (*Channel, error) {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = def.Dialer
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.URL == "" {
		return nil, errors.New("livedata: no stream URL")
	}
	if cfg.Source == nil {
		base, err := httpBase(cfg.URL)
		if err != nil {
			return nil, err
		}
		cfg.Source = &HTTPSource{BaseURL: base}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:    cfg,
		tr:     trace.NewEventLog("livedata.Channel", cfg.URL),
		events: make(chan event, 16),
		ctx:    ctx,
		cancel: cancel,
		m:      machine{status: Connecting},
		since:  cfg.Clock.Now(),
	}
	c.view.Store(&View{Status: Connecting, Since: c.since})
	c.wg.Add(1)
	go c.run()
	return c, nil
}

// httpBase turns ws://host/path into http://host.
func httpBase(stream string) (string, error) {
	u, err := url.Parse(stream)
	if err != nil {
		return "", errors.Wrapf(err, "livedata: parsing %q", stream)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", errors.Errorf("livedata: unsupported scheme in %q", stream)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String(), nil
}

// State returns the current view. All fields come from the same moment.
func (c *Channel) State() View {
	return *c.view.Load()
}

// Status is State().Status, except that a polling channel whose data is
// older than StaleAfter reports Error.
func (c *Channel) Status() Status {
	v := c.view.Load()
	if v.Status != Fallback || c.cfg.StaleAfter <= 0 {
		return v.Status
	}
	last := v.Since
	if v.Updated.After(last) {
		last = v.Updated
	}
	if c.cfg.Clock.Now().Sub(last) > c.cfg.StaleAfter {
		return Error
	}
	return Fallback
}

// Subscribe returns a channel receiving views as they are published. Only
// the latest unread view is kept. The channel is closed by Close.
func (c *Channel) Subscribe() <-chan View {
	ch := make(chan View, 1)
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	ch <- *c.view.Load()
	c.subs = append(c.subs, ch)
	return ch
}

// Close stops the channel: the socket is closed, timers are cancelled
// and polling stops. It returns after every goroutine of the channel has
// exited. Safe to call more than once.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
		c.subsMu.Lock()
		c.closed = true
		for _, ch := range c.subs {
			close(ch)
		}
		c.subs = nil
		c.subsMu.Unlock()
		c.tr.Finish()
	})
	return nil
}

// post hands e to the loop. It reports false if the channel is closing.
func (c *Channel) post(e event) bool {
	select {
	case c.events <- e:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) run() {
	defer c.wg.Done()
	c.publish(Connecting)
	c.dial()
	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case e := <-c.events:
			if c.ctx.Err() != nil {
				if e.conn != nil {
					e.conn.Close()
				}
				continue
			}
			c.handle(e)
		}
	}
}

func (c *Channel) teardown() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.tr.Printf("closed")
	glog.V(2).Infof("livedata: %s: closed", c.cfg.URL)
}

func (c *Channel) handle(e event) {
	switch e.kind {
	case evOpened:
		if e.id != c.connID {
			e.conn.Close()
			return
		}
		c.conn = e.conn
		if c.reconnect != nil {
			c.reconnect.Stop()
			c.reconnect = nil
		}
		c.err = nil
		glog.Infof("livedata: connected to %s", c.cfg.URL)
		c.wg.Add(1)
		go c.read(e.id, e.conn)
		c.apply(evOpened)

	case evDialFailed:
		if e.id != c.connID {
			return
		}
		c.setErr(e.err)
		c.apply(evDialFailed)

	case evClosed:
		if e.id != c.connID || c.conn == nil {
			return
		}
		c.conn.Close()
		c.conn = nil
		glog.Warningf("livedata: stream from %s closed: %v", c.cfg.URL, e.err)
		c.apply(evClosed)

	case evReconnectDue:
		if e.id != c.reconnectID {
			return
		}
		c.reconnect = nil
		c.apply(evReconnectDue)

	case evMessage:
		if e.id != c.connID {
			return
		}
		snap, err := ParseMessage(e.data)
		if err != nil {
			c.setErr(err)
		} else {
			c.snapshot = snap
			c.updated = c.cfg.Clock.Now()
			glog.V(2).Infof("livedata: snapshot with %d players, %d locations", len(snap.Players), len(snap.Locations))
		}
		c.publish(c.m.status)

	case evPollDue:
		c.schedulePoll()
		if c.polling {
			glog.V(2).Infof("livedata: previous poll still running, skipping")
			return
		}
		c.startPoll()

	case evPollDone:
		c.polling = false
		if e.err != nil {
			c.setErr(errors.Wrap(e.err, "fallback poll"))
		} else {
			c.snapshot = e.snap
			c.updated = c.cfg.Clock.Now()
			c.err = nil
		}
		c.publish(c.m.status)
	}
}

func (c *Channel) setErr(err error) {
	c.err = err
	c.tr.Errorf("%v", err)
	glog.V(2).Infof("livedata: %v", err)
}

// apply runs the transition for e and carries out its effect. The effect
// is in place before the final status is published.
func (c *Channel) apply(e eventKind) {
	s := c.cfg.next(c.m, e)
	c.m = s.to
	c.retryIn = s.delay
	for _, st := range s.via {
		c.publish(st)
	}
	switch s.effect {
	case effDial:
		c.dial()
	case effScheduleReconnect:
		c.scheduleReconnect(s.delay)
	case effStartPolling:
		glog.Warningf("livedata: %d failed attempts on %s, falling back to polling", c.m.attempts, c.cfg.URL)
		c.schedulePoll()
		c.startPoll()
	}
	c.tr.Printf("%v: %v, attempts %d", e, c.m.status, c.m.attempts)
	c.publish(c.m.status)
}

func (c *Channel) dial() {
	c.connID++
	id := c.connID
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		conn, err := c.cfg.Dialer.Dial(c.ctx, c.cfg.URL)
		if err != nil {
			c.post(event{kind: evDialFailed, id: id, err: err})
			return
		}
		if !c.post(event{kind: evOpened, id: id, conn: conn}) {
			conn.Close()
		}
	}()
}

func (c *Channel) read(id uint64, conn Conn) {
	defer c.wg.Done()
	for {
		p, err := conn.ReadMessage()
		if err != nil {
			c.post(event{kind: evClosed, id: id, err: err})
			return
		}
		if !c.post(event{kind: evMessage, id: id, data: p}) {
			return
		}
	}
}

func (c *Channel) scheduleReconnect(d time.Duration) {
	c.reconnectID++
	id := c.reconnectID
	glog.V(2).Infof("livedata: reconnecting to %s in %v", c.cfg.URL, d)
	c.reconnect = c.cfg.Clock.AfterFunc(d, func() {
		c.post(event{kind: evReconnectDue, id: id})
	})
}

func (c *Channel) schedulePoll() {
	c.pollTimer = c.cfg.Clock.AfterFunc(c.cfg.PollInterval, func() {
		c.post(event{kind: evPollDue})
	})
}

func (c *Channel) startPoll() {
	c.polling = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		snap, err := poll(c.ctx, c.cfg.Source, c.cfg.Clock.Now())
		c.post(event{kind: evPollDone, snap: snap, err: err})
	}()
}

// publish stores a new view with status s and notifies subscribers.
func (c *Channel) publish(s Status) {
	if s != c.status {
		c.status = s
		c.since = c.cfg.Clock.Now()
	}
	v := View{
		Status:   s,
		Snapshot: c.snapshot,
		Err:      c.err,
		Attempts: c.m.attempts,
		Updated:  c.updated,
		Since:    c.since,
	}
	if s == Reconnecting {
		v.RetryIn = c.retryIn
	}
	c.view.Store(&v)

	c.subsMu.Lock()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
	c.subsMu.Unlock()

	if c.cfg.OnChange != nil {
		c.cfg.OnChange(v)
	}
}
