package session

import (
	"context"
	"log/slog"
	"sync"

	"courier-client/internal/api"
)

// Manager owns login, logout and bootstrap, and the signed-in rider.
type Manager struct {
	store  *Store
	client *api.Client
	log    *slog.Logger

	mu      sync.RWMutex
	state   State
	user    *api.User
	lastErr error

	subsMu sync.Mutex
	subs   map[int]func(State, *api.User)
	nextID int
}

// NewManager wires the manager to the API client's 401 hook.
func NewManager(store *Store, client *api.Client, log *slog.Logger) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		log:    log.With("component", "session"),
		subs:   make(map[int]func(State, *api.User)),
	}
	client.OnUnauthorized(m.expire)
	return m
}

// Bootstrap restores a session from the stored credential.
func (m *Manager) Bootstrap(ctx context.Context) State {
	m.set(Bootstrapping, nil)

	token, ok := m.store.Get(ctx)
	if !ok {
		m.set(Anonymous, nil)
		return Anonymous
	}
	m.client.SetToken(token)

	var u api.User
	if err := m.client.Get(ctx, "/auth/profile", &u); err != nil {
		// A 401 has already cleared the store through the client hook. Other
		// failures keep the credential for the next start.
		m.log.Warn("profile fetch failed, starting signed out", "error", err)
		m.client.SetToken("")
		m.recordErr(err)
		m.set(Anonymous, nil)
		return Anonymous
	}
	if u.Role != api.RoleRider {
		m.log.Warn("stored credential belongs to a non-rider account", "role", u.Role)
		m.discard(ctx)
		m.recordErr(api.ErrRoleMismatch)
		m.set(Anonymous, nil)
		return Anonymous
	}

	m.recordErr(nil)
	m.set(Authenticated, &u)
	m.log.Info("session restored", "user_id", u.ID)
	m.replay(ctx)
	return Authenticated
}

// Login never returns an error; LastError holds the classification of a
// false result.
func (m *Manager) Login(ctx context.Context, email, password string) bool {
	resp, err := m.client.Authenticate(ctx, email, password)
	if err != nil {
		m.log.Info("login failed", "kind", api.Kind(err), "error", err)
		m.recordErr(err)
		return false
	}
	if resp.User.Role != api.RoleRider {
		m.log.Info("login rejected for non-rider account", "role", resp.User.Role)
		m.recordErr(api.ErrRoleMismatch)
		return false
	}
	if err := m.store.Set(ctx, resp.Token); err != nil {
		m.log.Error("failed to persist credential", "error", err)
		m.recordErr(err)
		return false
	}

	m.client.SetToken(resp.Token)
	m.recordErr(nil)
	m.set(Authenticated, resp.User)
	m.log.Info("signed in", "user_id", resp.User.ID)
	m.replay(ctx)
	return true
}

// Logout always ends Anonymous. Storage failures are logged and swallowed.
func (m *Manager) Logout(ctx context.Context) {
	m.discard(ctx)
	m.recordErr(nil)
	m.set(Anonymous, nil)
	m.log.Info("signed out")
}

// LastError is the failure behind the most recent unsuccessful Login or
// Bootstrap, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// User returns a copy of the signed-in rider, or nil.
func (m *Manager) User() *api.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) Status() Status {
	st := Status{State: m.State(), User: m.User()}
	if err := m.LastError(); err != nil {
		st.Error = api.Kind(err)
		st.Message = api.Describe(err)
	}
	return st
}

// Subscribe registers fn for every state change. fn runs synchronously on the
// goroutine that caused the change.
func (m *Manager) Subscribe(fn func(State, *api.User)) (cancel func()) {
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

// expire runs after the API client has torn the credential down on a 401.
func (m *Manager) expire() {
	if m.State() == Anonymous {
		return
	}
	m.log.Warn("session expired")
	m.recordErr(api.ErrUnauthorized)
	m.set(Anonymous, nil)
}

func (m *Manager) discard(ctx context.Context) {
	m.client.SetToken("")
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to clear stored credential", "error", err)
	}
}

func (m *Manager) replay(ctx context.Context) {
	if _, err := m.client.ReplayQueue(ctx); err != nil {
		m.log.Warn("pending queue replay after sign-in failed", "error", err)
	}
}

func (m *Manager) recordErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) set(state State, u *api.User) {
	m.mu.Lock()
	changed := m.state != state || m.user != u
	m.state = state
	if u != nil {
		cp := *u
		u = &cp
	}
	m.user = u
	m.mu.Unlock()
	if !changed {
		return
	}

	m.subsMu.Lock()
	fns := make([]func(State, *api.User), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.Unlock()
	for _, fn := range fns {
		var cp *api.User
		if u != nil {
			c := *u
			cp = &c
		}
		fn(state, cp)
	}
}

// Rider returns the signed-in rider or api.ErrNoSession.
func (m *Manager) Rider() (*api.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Authenticated || m.user == nil {
		return nil, api.ErrNoSession
	}
	u := *m.user
	return &u, nil
}
