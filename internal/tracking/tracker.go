package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"courier-client/internal/api"
	"courier-client/pkg/validation"
)

// Tracker owns the single position subscription and forwards samples to the
// backend according to its Policy.
type Tracker struct {
	source Source
	client *api.Client
	policy Policy
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	feed      Feed
	active    bool
	opening   bool
	gen       int
	last      *Sample
	forwarded *Sample
	warning   error
	hooks     []func(Sample, bool)
}

func NewTracker(source Source, client *api.Client, policy Policy, log *slog.Logger) *Tracker {
	return &Tracker{
		source: source,
		client: client,
		policy: policy,
		log:    log.With("component", "tracker"),
		now:    time.Now,
	}
}

// OnSample registers fn to run after every sample is handled. forwarded
// reports whether the sample was sent to the backend.
func (t *Tracker) OnSample(fn func(s Sample, forwarded bool)) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

// Start opens a subscription unless one is already active or opening. A
// handle left over from a dropped feed is closed first. The lock is not
// held while the source opens; a Stop that lands meanwhile wins and the
// new feed is closed.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.active || t.opening {
		t.mu.Unlock()
		return nil
	}
	stale := t.feed
	t.feed = nil
	t.opening = true
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	feed, err := t.source.Open(ctx)

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		if feed != nil {
			feed.Close()
		}
		t.log.Info("tracking stopped while the feed was opening")
		return nil
	}
	t.opening = false
	if err != nil {
		t.mu.Unlock()
		t.log.Warn("could not start tracking", "error", err)
		return err
	}
	t.feed = feed
	t.active = true
	t.forwarded = nil
	t.warning = nil
	t.mu.Unlock()

	go t.run(feed, gen)
	t.log.Info("tracking started")
	return nil
}

// Stop closes the subscription and abandons any open in flight. Safe to
// call when already stopped.
func (t *Tracker) Stop() {
	t.mu.Lock()
	feed := t.feed
	wasActive := t.active
	t.feed = nil
	t.active = false
	t.opening = false
	t.gen++
	t.mu.Unlock()

	if feed != nil {
		if err := feed.Close(); err != nil {
			t.log.Debug("closing position feed", "error", err)
		}
	}
	if wasActive {
		t.log.Info("tracking stopped")
	}
}

func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Last returns the most recent sample, forwarded or not.
func (t *Tracker) Last() (Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Sample{}, false
	}
	return *t.last, true
}

// Warning is the last forwarding failure, cleared by the next success.
func (t *Tracker) Warning() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warning
}

func (t *Tracker) run(feed Feed, gen int) {
	for s := range feed.Samples() {
		t.handle(s, gen)
	}

	t.mu.Lock()
	dropped := t.gen == gen && t.active
	if dropped {
		// Keep the handle so the next Start disposes of it.
		t.active = false
	}
	t.mu.Unlock()
	if dropped {
		t.log.Warn("position feed dropped, tracking inactive")
	}
}

func (t *Tracker) handle(s Sample, gen int) {
	if !validation.ValidateCoordinates(s.Latitude, s.Longitude) {
		t.log.Debug("discarding out-of-range sample", "lat", s.Latitude, "lng", s.Longitude)
		return
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = t.now()
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.last = &s
	forward := t.policy.ShouldForward(t.forwarded, s)
	if forward {
		t.forwarded = &s
	}
	hooks := append([]func(Sample, bool){}, t.hooks...)
	t.mu.Unlock()

	if forward {
		err := t.client.Post(context.Background(), "/riders/location", locationUpdate{Latitude: s.Latitude, Longitude: s.Longitude}, nil)
		t.mu.Lock()
		t.warning = err
		t.mu.Unlock()
		if err != nil {
			t.log.Warn("location update failed", "kind", api.Kind(err), "error", err)
		}
	}

	for _, fn := range hooks {
		fn(s, forward)
	}
}

// Status is the tracker as shown to the UI.
type Status struct {
	Active  bool    `json:"active"`
	Last    *Sample `json:"last,omitempty"`
	Warning string  `json:"warning,omitempty"`
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{Active: t.active}
	if t.last != nil {
		s := *t.last
		st.Last = &s
	}
	if t.warning != nil {
		st.Warning = api.Describe(t.warning)
	}
	return st
}
