// Package livefeed serves live player and location data: a websocket
// stream at /ws and the polling endpoints livedata falls back to.
//
// It stands in for the game server plugin during development and in
// tests.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/gameworld"
)

// writeWait bounds each write to a subscriber.
const writeWait = 10 * time.Second

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub holds the current snapshot and pushes every new one to all
// websocket subscribers.
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	snap *gameworld.Snapshot
	data []byte
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subs: map[*subscriber]struct{}{},
		snap: &gameworld.Snapshot{Players: []gameworld.Player{}, Locations: []gameworld.Location{}},
	}
}

// Snapshot returns the last published snapshot. Callers must not modify
// it.
func (h *Hub) Snapshot() *gameworld.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish replaces the snapshot and broadcasts it. Subscribers that
// cannot be written to are dropped.
func (h *Hub) Publish(s *gameworld.Snapshot) error {
	c := *s
	if c.Players == nil {
		c.Players = []gameworld.Player{}
	}
	if c.Locations == nil {
		c.Locations = []gameworld.Location{}
	}
	s = &c
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	h.mu.Lock()
	h.snap = s
	h.data = data
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			glog.Warningf("livefeed: dropping %v: %v", sub.conn.RemoteAddr(), err)
			h.remove(sub)
		}
	}
	return nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

// ServeHTTP upgrades the request to a websocket, sends the current
// snapshot and keeps the subscriber until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("livefeed: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	data := h.data
	if data == nil {
		data, _ = json.Marshal(h.snap)
	}
	h.mu.Unlock()
	glog.V(2).Infof("livefeed: %s subscribed", r.RemoteAddr)

	if err := sub.write(data); err != nil {
		h.remove(sub)
		return
	}
	// Incoming messages are ignored; reading notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
	glog.V(2).Infof("livefeed: %s gone", r.RemoteAddr)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[*subscriber]struct{}{}
	h.mu.Unlock()
	for sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		sub.mu.Unlock()
		sub.conn.Close()
	}
}
