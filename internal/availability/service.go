package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"courier-client/internal/api"
	"courier-client/internal/lifecycle"
	"courier-client/internal/session"
	"courier-client/internal/tracking"
)

// Controller owns the rider's online flag and keeps the tracker in step
// with it.
type Controller struct {
	session *session.Manager
	client  *api.Client
	tracker *tracking.Tracker
	log     *slog.Logger

	// op serialises the operations that move online and the tracker together.
	op sync.Mutex

	mu        sync.RWMutex
	online    bool
	accepting bool
	lastErr   error

	subsMu sync.Mutex
	subs   map[int]func(State)
	nextID int
}

func NewController(sess *session.Manager, client *api.Client, tracker *tracking.Tracker, log *slog.Logger) *Controller {
	c := &Controller{
		session: sess,
		client:  client,
		tracker: tracker,
		log:     log.With("component", "availability"),
		subs:    make(map[int]func(State)),
	}
	sess.Subscribe(func(s session.State, _ *api.User) {
		if s == session.Anonymous {
			c.teardown()
		}
	})
	return c
}

// MarkOnline tells the backend the rider is active, then starts tracking.
// A tracking failure keeps the rider online and returns an error wrapping
// ErrTrackingUnavailable; RetryTracking tries again.
func (c *Controller) MarkOnline(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	u, err := c.session.Rider()
	if err != nil {
		return c.fail(err)
	}
	if err := c.client.Put(ctx, "/riders/"+u.ID.String(), statusUpdate{Status: StatusActive}, nil); err != nil {
		c.log.Warn("go online rejected", "kind", api.Kind(err), "error", err)
		return c.fail(err)
	}
	c.setOnline(true)
	c.log.Info("rider online", "rider_id", u.ID)

	if err := c.startTracking(ctx); err != nil {
		return err
	}
	c.fail(nil)
	return nil
}

// MarkOffline tells the backend the rider is inactive. The local flag and the
// tracker go down even when the backend call fails.
func (c *Controller) MarkOffline(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	u, err := c.session.Rider()
	if err != nil {
		return c.fail(err)
	}
	err = c.client.Put(ctx, "/riders/"+u.ID.String(), statusUpdate{Status: StatusInactive}, nil)
	c.tracker.Stop()
	c.setOnline(false)
	if err != nil {
		c.log.Warn("go offline not confirmed by backend", "kind", api.Kind(err), "error", err)
		return c.fail(err)
	}
	c.log.Info("rider offline", "rider_id", u.ID)
	return c.fail(nil)
}

// RetryTracking restarts the subscription after a failed start.
func (c *Controller) RetryTracking(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	if _, err := c.session.Rider(); err != nil {
		return c.fail(err)
	}
	if !c.Online() {
		return c.fail(ErrOffline)
	}
	if err := c.startTracking(ctx); err != nil {
		return err
	}
	return c.fail(nil)
}

// HandleAppState restarts a subscription that went away while the app was
// in the background. Going to the background changes nothing.
func (c *Controller) HandleAppState(ctx context.Context, s lifecycle.State) {
	if s != lifecycle.Foreground {
		return
	}
	c.op.Lock()
	defer c.op.Unlock()
	if !c.Online() || c.tracker.Active() {
		return
	}
	c.log.Info("foregrounded while online without tracking, restarting")
	_ = c.startTracking(ctx)
}

// Watch feeds app state transitions from src into HandleAppState until ctx
// is done.
func (c *Controller) Watch(ctx context.Context, src lifecycle.Source) {
	cancel := src.Subscribe(func(s lifecycle.State) { c.HandleAppState(ctx, s) })
	go func() {
		<-ctx.Done()
		cancel()
	}()
}

// Refresh seeds the online and accepting flags from the backend.
func (c *Controller) Refresh(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	u, err := c.session.Rider()
	if err != nil {
		return c.fail(err)
	}
	var rd Rider
	if err := c.client.Get(ctx, "/riders/"+u.ID.String(), &rd); err != nil {
		c.log.Warn("rider status fetch failed", "error", err)
		return c.fail(err)
	}

	online := rd.Status == StatusActive
	c.mu.Lock()
	c.accepting = rd.IsAvailable
	c.mu.Unlock()
	c.setOnline(online)
	if !online {
		c.tracker.Stop()
		return c.fail(nil)
	}
	if err := c.startTracking(ctx); err != nil {
		return err
	}
	return c.fail(nil)
}

// SetAccepting toggles whether the backend offers the rider new orders.
func (c *Controller) SetAccepting(ctx context.Context, accepting bool) error {
	u, err := c.session.Rider()
	if err != nil {
		return c.fail(err)
	}
	if err := c.client.Put(ctx, "/riders/"+u.ID.String()+"/availability", availabilityUpdate{IsAvailable: accepting}, nil); err != nil {
		return c.fail(err)
	}
	c.mu.Lock()
	c.accepting = accepting
	c.mu.Unlock()
	c.notify()
	return c.fail(nil)
}

func (c *Controller) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// LastError is the failure of the most recent operation, or nil.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Controller) State() State {
	c.mu.RLock()
	st := State{Online: c.online, Accepting: c.accepting}
	err := c.lastErr
	c.mu.RUnlock()
	st.Tracking = c.tracker.Status()
	if err != nil {
		st.Error = api.Kind(err)
		st.Message = api.Describe(err)
	}
	return st
}

// Subscribe registers fn for every change of the online or accepting flag.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// startTracking must run under op.
func (c *Controller) startTracking(ctx context.Context) error {
	if err := c.tracker.Start(ctx); err != nil {
		return c.fail(fmt.Errorf("%w: %w", ErrTrackingUnavailable, err))
	}
	// The session may have ended while the subscription was opening.
	if _, err := c.session.Rider(); err != nil {
		c.tracker.Stop()
		c.setOnline(false)
		return c.fail(err)
	}
	return nil
}

// teardown runs when the session ends. Nothing is sent to the backend; the
// credential is already gone.
func (c *Controller) teardown() {
	c.tracker.Stop()
	if c.Online() {
		c.log.Info("session ended, rider marked offline locally")
	}
	c.setOnline(false)
}

func (c *Controller) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	if !online {
		c.accepting = false
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) notify() {
	st := c.State()
	c.subsMu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}
