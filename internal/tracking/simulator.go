package tracking

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Simulator walks a straight line toward a random target at a fixed speed
// and picks a new target on arrival. Used for demos and soak runs when no
// real position feed is configured.
type Simulator struct {
	speed    float64 // m/s
	interval time.Duration
	radius   float64 // meters
	log      *slog.Logger

	mu     sync.Mutex
	pos    Sample
	target Sample
	rnd    *rand.Rand
}

func NewSimulator(lat, lng float64, interval time.Duration, log *slog.Logger) *Simulator {
	start := Sample{Latitude: lat, Longitude: lng}
	s := &Simulator{
		speed:    8,
		interval: interval,
		radius:   2000,
		log:      log.With("component", "simulator"),
		pos:      start,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.target = s.pickTarget()
	return s
}

func (s *Simulator) pickTarget() Sample {
	north := (s.rnd.Float64()*2 - 1) * s.radius
	east := (s.rnd.Float64()*2 - 1) * s.radius
	return Offset(s.pos, north, east)
}

// step advances the position by one interval and returns it.
func (s *Simulator) step(now time.Time) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	stepDistance := s.speed * s.interval.Seconds()
	remaining := Distance(s.pos, s.target)
	if remaining <= stepDistance {
		s.pos = s.target
		s.target = s.pickTarget()
		s.log.Debug("simulated rider reached target", "lat", s.pos.Latitude, "lng", s.pos.Longitude)
	} else {
		frac := stepDistance / remaining
		s.pos.Latitude += (s.target.Latitude - s.pos.Latitude) * frac
		s.pos.Longitude += (s.target.Longitude - s.pos.Longitude) * frac
	}
	s.pos.CapturedAt = now
	return s.pos
}

func (s *Simulator) Open(context.Context) (Feed, error) {
	f := &simFeed{ch: make(chan Sample, 1), stop: make(chan struct{})}
	go func() {
		defer close(f.ch)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case now := <-ticker.C:
				select {
				case f.ch <- s.step(now):
				case <-f.stop:
					return
				}
			}
		}
	}()
	return f, nil
}

type simFeed struct {
	ch   chan Sample
	stop chan struct{}
	once sync.Once
}

func (f *simFeed) Samples() <-chan Sample { return f.ch }

func (f *simFeed) Close() error {
	f.once.Do(func() { close(f.stop) })
	return nil
}
