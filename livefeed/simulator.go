package livefeed

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/golang/glog"

	"bytefi.sh/pkg/worldmap/gameworld"
)

// Simulator walks players around and publishes a snapshot per tick.
type Simulator struct {
	hub       *Hub
	interval  time.Duration
	speed     float64
	rng       *rand.Rand
	players   []gameworld.Player
	headings  []float64
	locations []gameworld.Location
	now       func() time.Time
}

// NewSimulator moves players by up to speed blocks per tick. seed makes
// the walk reproducible.
func NewSimulator(hub *Hub, players []gameworld.Player, locations []gameworld.Location, interval time.Duration, speed float64, seed uint64) *Simulator {
	s := &Simulator{
		hub:       hub,
		interval:  interval,
		speed:     speed,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		players:   append([]gameworld.Player(nil), players...),
		locations: locations,
		now:       time.Now,
	}
	s.headings = make([]float64, len(players))
	for i := range s.headings {
		s.headings[i] = s.rng.Float64() * 2 * math.Pi
	}
	return s
}

// Tick advances every player one step and publishes the result.
func (s *Simulator) Tick() *gameworld.Snapshot {
	players := make([]gameworld.Player, len(s.players))
	for i, p := range s.players {
		s.headings[i] += s.rng.NormFloat64() * 0.3
		d := s.speed * s.rng.Float64()
		p.X = math.Round(p.X + math.Cos(s.headings[i])*d)
		p.Z = math.Round(p.Z + math.Sin(s.headings[i])*d)
		s.players[i] = p
		players[i] = p
	}
	snap := &gameworld.Snapshot{
		Players:   players,
		Locations: s.locations,
		Timestamp: s.now().UnixMilli(),
	}
	if err := s.hub.Publish(snap); err != nil {
		glog.Errorf("livefeed: publishing: %v", err)
	}
	return snap
}

// Run ticks until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.Tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick()
		}
	}
}
