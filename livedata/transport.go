package livedata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bytefi.sh/pkg/worldmap/gameworld"
)

// Conn is an open stream of snapshot messages.
type Conn interface {
	// ReadMessage blocks for the next message. Any error ends the stream.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials websocket streams. A nil Dialer field means
// websocket.DefaultDialer.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, p, err := c.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return p, nil
		}
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s: %s", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return wsConn{conn}, nil
}

// Source answers the polling requests used in fallback mode.
type Source interface {
	Players(ctx context.Context) ([]gameworld.Player, error)
	Locations(ctx context.Context) ([]gameworld.Location, error)
}

// HTTPSource polls a server exposing /api/players/locations and
// /api/locations.
type HTTPSource struct {
	Client  *http.Client
	BaseURL string
}

const (
	PlayersPath   = "/api/players/locations"
	LocationsPath = "/api/locations"
)

func (s *HTTPSource) Players(ctx context.Context) ([]gameworld.Player, error) {
	var out []gameworld.Player
	if err := s.get(ctx, PlayersPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPSource) Locations(ctx context.Context) ([]gameworld.Location, error) {
	var out []gameworld.Location
	if err := s.get(ctx, LocationsPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, v interface{}) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimSuffix(s.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building poll request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "polling %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("polling %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrapf(err, "decoding %s", url)
	}
	return nil
}

// poll fetches players and locations concurrently. The snapshot is only
// returned if both succeed.
func poll(ctx context.Context, src Source, now time.Time) (*gameworld.Snapshot, error) {
	var (
		players   []gameworld.Player
		locations []gameworld.Location
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		players, err = src.Players(ctx)
		return err
	})
	g.Go(func() (err error) {
		locations, err = src.Locations(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &gameworld.Snapshot{
		Players:   nonNil(players),
		Locations: nonNil(locations),
		Timestamp: now.UnixMilli(),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// message is the wire form of a streamed snapshot.
type message struct {
	Players   *[]gameworld.Player   `json:"players"`
	Locations *[]gameworld.Location `json:"locations"`
	Timestamp int64                 `json:"timestamp"`
}

// ErrInvalidMessage wraps every message parse failure.
var ErrInvalidMessage = errors.New("invalid data received")

// ParseMessage decodes one streamed snapshot. The payload must be a JSON
// object carrying players, locations or both; a missing list is empty.
func ParseMessage(p []byte) (*gameworld.Snapshot, error) {
	var m message
	if err := json.Unmarshal(p, &m); err != nil {
		return nil, errors.Wrap(ErrInvalidMessage, err.Error())
	}
	if m.Players == nil && m.Locations == nil {
		return nil, errors.Wrap(ErrInvalidMessage, fmt.Sprintf("no players or locations in %d byte message", len(p)))
	}
	s := &gameworld.Snapshot{Timestamp: m.Timestamp, Players: []gameworld.Player{}, Locations: []gameworld.Location{}}
	if m.Players != nil && *m.Players != nil {
		s.Players = *m.Players
	}
	if m.Locations != nil && *m.Locations != nil {
		s.Locations = *m.Locations
	}
	return s, nil
}
