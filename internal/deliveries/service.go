package deliveries

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"courier-client/internal/api"
	"courier-client/internal/session"
	"courier-client/pkg/validation"
)

// Manager owns the rider's active/history split and sends status changes.
type Manager struct {
	session *session.Manager
	client  *api.Client
	log     *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	set     DeliverySet
	gen     int
	lastErr error

	subsMu      sync.Mutex
	subs        map[int]func(DeliverySet)
	transitions []func(Order)
	nextID      int
}

func NewManager(sess *session.Manager, client *api.Client, log *slog.Logger) *Manager {
	m := &Manager{
		session: sess,
		client:  client,
		log:     log.With("component", "deliveries"),
		now:     time.Now,
		set:     DeliverySet{Active: []Order{}, History: []Order{}},
		subs:    make(map[int]func(DeliverySet)),
	}
	sess.Subscribe(func(s session.State, _ *api.User) {
		if s == session.Anonymous {
			m.reset()
		}
	})
	return m
}

// FetchAll replaces local state with the backend's full order list.
func (m *Manager) FetchAll(ctx context.Context) error {
	u, err := m.session.Rider()
	if err != nil {
		return m.fail(err)
	}
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()

	var orders []Order
	if err := m.client.Get(ctx, "/riders/"+u.ID.String()+"/orders", &orders); err != nil {
		m.log.Warn("order list fetch failed", "kind", api.Kind(err), "error", err)
		return m.fail(err)
	}

	set := Partition(orders)
	set.SyncedAt = m.now().UTC()
	m.mu.Lock()
	if m.gen != gen {
		// Signed out while the request was in flight.
		m.mu.Unlock()
		return nil
	}
	m.set = set
	m.lastErr = nil
	m.mu.Unlock()

	m.log.Debug("orders synced", "active", len(set.Active), "history", len(set.History))
	m.notify()
	return nil
}

// GetDetails fetches one order with its items and contacts.
func (m *Manager) GetDetails(ctx context.Context, orderID string) (*Order, error) {
	if !validation.ValidateOrderID(orderID) {
		return nil, ErrInvalidArgument
	}
	if _, err := m.session.Rider(); err != nil {
		return nil, err
	}
	var o Order
	if err := m.client.Get(ctx, "/riders/delivery/"+url.PathEscape(orderID), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatus sends a status change and reports whether the backend took
// it. It is never queued. A confirmed terminal status moves the order to
// the head of history straight away and then resyncs; LastError explains a
// false result.
func (m *Manager) UpdateStatus(ctx context.Context, orderID, status string) bool {
	if !validation.ValidateOrderID(orderID) || status == "" {
		m.fail(ErrInvalidArgument)
		return false
	}
	rider, err := m.session.Rider()
	if err != nil {
		m.fail(err)
		return false
	}
	m.mu.RLock()
	cur, cached := m.set.find(orderID)
	m.mu.RUnlock()
	if cached && !CanTransition(cur.Status, status) {
		m.log.Info("status change refused locally", "order_id", orderID, "from", cur.Status, "to", status)
		m.fail(fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Status, status))
		return false
	}

	path := "/orders/" + url.PathEscape(orderID) + "/rider-status"
	if err := m.client.Put(ctx, path, statusUpdate{Status: status}, nil, api.WithoutQueue()); err != nil {
		m.log.Warn("status change failed", "order_id", orderID, "status", status, "kind", api.Kind(err), "error", err)
		m.fail(err)
		return false
	}
	m.log.Info("status change confirmed", "order_id", orderID, "status", status)

	moved := m.apply(orderID, status, rider.ID)
	m.fail(nil)
	m.notify()
	m.emitTransition(moved)

	if Terminal(status) {
		if err := m.FetchAll(ctx); err != nil {
			m.log.Warn("resync after completion failed", "order_id", orderID, "error", err)
		}
	}
	return true
}

// apply records a confirmed status change locally and returns the order as
// it now stands. An order not held locally is reported with the rider who
// changed it.
func (m *Manager) apply(orderID, status string, riderID api.ID) Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, o := range m.set.Active {
		if o.ID.String() != orderID {
			continue
		}
		o.Status = status
		if !Terminal(status) {
			m.set.Active[i] = o
			return o.clone()
		}
		if status == StatusDelivered {
			at := m.now().UTC()
			o.CompletedAt = &at
		}
		m.set.Active = append(m.set.Active[:i:i], m.set.Active[i+1:]...)
		m.set.History = append([]Order{o}, m.set.History...)
		return o.clone()
	}
	return Order{ID: api.ID(orderID), RiderID: riderID, Status: status}
}

// Snapshot returns a deep copy of the current split.
func (m *Manager) Snapshot() DeliverySet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Clone()
}

// LastError is the failure of the most recent fetch or status change.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Subscribe registers fn for every change of the split.
func (m *Manager) Subscribe(fn func(DeliverySet)) (cancel func()) {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subsMu.Unlock()
	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

// OnTransition registers fn for every status change the backend confirmed.
func (m *Manager) OnTransition(fn func(Order)) {
	m.subsMu.Lock()
	m.transitions = append(m.transitions, fn)
	m.subsMu.Unlock()
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.gen++
	m.set = DeliverySet{Active: []Order{}, History: []Order{}}
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	snap := m.Snapshot()
	m.subsMu.Lock()
	fns := make([]func(DeliverySet), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()
	for _, fn := range fns {
		fn(snap.Clone())
	}
}

func (m *Manager) emitTransition(o Order) {
	m.subsMu.Lock()
	fns := append([]func(Order){}, m.transitions...)
	m.subsMu.Unlock()
	for _, fn := range fns {
		fn(o.clone())
	}
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	return err
}
