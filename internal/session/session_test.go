package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier-client/internal/api"
	"courier-client/internal/fakebackend"
	"courier-client/internal/storage"
	"courier-client/pkg/jwt"
	"courier-client/pkg/logger"
)

type env struct {
	backend *fakebackend.Backend
	net     *fakebackend.Network
	raw     storage.Store
	store   *Store
	client  *api.Client
	m       *Manager
}

func newEnv(t *testing.T, raw storage.Store) *env {
	t.Helper()
	if raw == nil {
		raw = storage.NewMemory()
	}
	secrets, err := storage.NewEncrypted(raw, []byte("device-secret"))
	if err != nil {
		t.Fatalf("encrypted store: %v", err)
	}
	e := &env{backend: fakebackend.New(t), net: fakebackend.NewNetwork(), raw: raw}
	e.backend.AddUser("42", "rider@example.com", "secret", api.RoleRider)
	e.backend.AddUser("7", "diner@example.com", "secret", "customer")
	e.store = NewStore(secrets, logger.Discard())
	e.client = api.NewClient(e.backend.URL(), e.net.Client(), api.NewQueue(storage.NewMemory()), e.store, logger.Discard())
	e.m = NewManager(e.store, e.client, logger.Discard())
	return e
}

func TestLogin(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	var seen []State
	e.m.Subscribe(func(s State, _ *api.User) { seen = append(seen, s) })

	if !e.m.Login(ctx, "rider@example.com", "secret") {
		t.Fatalf("login failed: %v", e.m.LastError())
	}
	if e.m.State() != Authenticated || e.m.User().ID != "42" {
		t.Fatalf("unexpected session %+v", e.m.Status())
	}
	if e.client.Token() == "" {
		t.Error("credential not installed in the client")
	}
	if tok, ok := e.store.Get(ctx); !ok || tok != e.client.Token() {
		t.Error("credential not persisted")
	}
	if len(seen) != 1 || seen[0] != Authenticated {
		t.Errorf("unexpected notifications %v", seen)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		down     bool
		want     error
	}{
		{"wrong password", "rider@example.com", "nope", false, api.ErrInvalidCredentials},
		{"not a rider", "diner@example.com", "secret", false, api.ErrRoleMismatch},
		{"missing password", "rider@example.com", "", false, api.ErrValidation},
		{"offline", "rider@example.com", "secret", true, api.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			ctx := context.Background()
			e.net.SetDown(tt.down)

			if e.m.Login(ctx, tt.email, tt.password) {
				t.Fatal("login should fail")
			}
			if !errors.Is(e.m.LastError(), tt.want) {
				t.Errorf("LastError = %v, want %v", e.m.LastError(), tt.want)
			}
			if e.m.State() == Authenticated {
				t.Error("failed login produced an authenticated session")
			}
			if _, ok := e.store.Get(ctx); ok {
				t.Error("failed login persisted a credential")
			}
			if e.m.Status().Message == "" {
				t.Error("no user-facing message recorded")
			}
		})
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("no credential", func(t *testing.T) {
		e := newEnv(t, nil)
		if got := e.m.Bootstrap(ctx); got != Anonymous {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("valid rider credential", func(t *testing.T) {
		e := newEnv(t, nil)
		_ = e.store.Set(ctx, e.backend.IssueToken("42"))
		if got := e.m.Bootstrap(ctx); got != Authenticated {
			t.Fatalf("got %v: %v", got, e.m.LastError())
		}
		if e.m.User().Role != api.RoleRider {
			t.Errorf("unexpected user %+v", e.m.User())
		}
	})

	t.Run("non-rider credential is discarded", func(t *testing.T) {
		e := newEnv(t, nil)
		_ = e.store.Set(ctx, e.backend.IssueToken("7"))
		if got := e.m.Bootstrap(ctx); got != Anonymous {
			t.Fatalf("got %v", got)
		}
		if _, ok := e.store.Get(ctx); ok {
			t.Error("non-rider credential kept")
		}
		if e.client.Token() != "" {
			t.Error("non-rider credential still installed")
		}
	})

	t.Run("revoked credential is discarded", func(t *testing.T) {
		e := newEnv(t, nil)
		tok := e.backend.IssueToken("42")
		_ = e.store.Set(ctx, tok)
		e.backend.Revoke(tok)
		if got := e.m.Bootstrap(ctx); got != Anonymous {
			t.Fatalf("got %v", got)
		}
		if _, ok := e.store.Get(ctx); ok {
			t.Error("revoked credential kept")
		}
	})

	t.Run("expired credential never reaches the network", func(t *testing.T) {
		e := newEnv(t, nil)
		tok, err := jwt.Sign([]byte("k"), "42", "", api.RoleRider, -time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		_ = e.store.Set(ctx, tok)
		if got := e.m.Bootstrap(ctx); got != Anonymous {
			t.Fatalf("got %v", got)
		}
		if n := e.backend.Count(http.MethodGet, "/auth/profile"); n != 0 {
			t.Errorf("profile fetched %d times", n)
		}
	})

	t.Run("offline keeps the credential", func(t *testing.T) {
		e := newEnv(t, nil)
		_ = e.store.Set(ctx, e.backend.IssueToken("42"))
		e.net.SetDown(true)
		if got := e.m.Bootstrap(ctx); got != Anonymous {
			t.Fatalf("got %v", got)
		}
		if _, ok := e.store.Get(ctx); !ok {
			t.Error("credential dropped on a network failure")
		}
		if !errors.Is(e.m.LastError(), api.ErrNetwork) {
			t.Errorf("LastError = %v", e.m.LastError())
		}
	})
}

func TestUnauthorizedEndsSession(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	if !e.m.Login(ctx, "rider@example.com", "secret") {
		t.Fatal(e.m.LastError())
	}
	var last State
	e.m.Subscribe(func(s State, _ *api.User) { last = s })

	e.backend.Revoke(e.client.Token())
	err := e.client.Get(ctx, "/riders/42", nil)
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if e.m.State() != Anonymous || last != Anonymous {
		t.Fatalf("state %v, last notified %v", e.m.State(), last)
	}
	if _, ok := e.store.Get(ctx); ok {
		t.Error("credential survived a 401")
	}
	if _, err := e.m.Rider(); !errors.Is(err, api.ErrNoSession) {
		t.Errorf("Rider() = %v", err)
	}
}

type brokenDelete struct{ storage.Store }

func (brokenDelete) Delete(context.Context, string) error { return errors.New("disk full") }

func TestLogoutSwallowsStorageFailure(t *testing.T) {
	e := newEnv(t, brokenDelete{storage.NewMemory()})
	ctx := context.Background()
	if !e.m.Login(ctx, "rider@example.com", "secret") {
		t.Fatal(e.m.LastError())
	}
	e.m.Logout(ctx)
	if e.m.State() != Anonymous || e.client.Token() != "" {
		t.Errorf("logout left state %v", e.m.State())
	}
	if e.m.LastError() != nil {
		t.Errorf("logout recorded %v", e.m.LastError())
	}
}

func TestLoginReplaysPendingQueue(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	q := e.client.Queue()
	_ = q.Enqueue(ctx, api.QueuedRequest{Method: http.MethodPost, Path: "/riders/location", Owner: "42", Body: json.RawMessage(`{"latitude":1,"longitude":1}`)})

	if !e.m.Login(ctx, "rider@example.com", "secret") {
		t.Fatal(e.m.LastError())
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("queue not replayed, %d pending", n)
	}
	if len(e.backend.Locations()) != 1 {
		t.Errorf("replayed location did not reach the backend")
	}
}

func TestStoreTreatsUnreadableAsAbsent(t *testing.T) {
	ctx := context.Background()
	raw := storage.NewMemory()
	a, _ := storage.NewEncrypted(raw, []byte("first device"))
	b, _ := storage.NewEncrypted(raw, []byte("second device"))

	if err := NewStore(a, logger.Discard()).Set(ctx, "opaque-token"); err != nil {
		t.Fatal(err)
	}
	if tok, ok := NewStore(a, logger.Discard()).Get(ctx); !ok || tok != "opaque-token" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if _, ok := NewStore(b, logger.Discard()).Get(ctx); ok {
		t.Error("value sealed under another secret should read as absent")
	}
}

func TestHandlerLogin(t *testing.T) {
	e := newEnv(t, nil)
	srv := httptest.NewServer(NewHandler(e.m).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/login", "application/json", strings.NewReader(`{"email":"rider@example.com","password":"bad"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st struct {
		State string `json:"state"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Error != "invalid_credentials" {
		t.Errorf("error = %q", st.Error)
	}

	resp2, err := http.Post(srv.URL+"/login", "application/json", strings.NewReader(`{"email":"rider@example.com","password":"secret"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp2.StatusCode)
	}
	if e.m.State() != Authenticated {
		t.Errorf("state = %v", e.m.State())
	}
}
