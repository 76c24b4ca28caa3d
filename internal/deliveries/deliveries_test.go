package deliveries

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier-client/internal/api"
	"courier-client/internal/fakebackend"
	"courier-client/internal/session"
	"courier-client/internal/storage"
	"courier-client/pkg/logger"
)

type env struct {
	backend *fakebackend.Backend
	net     *fakebackend.Network
	client  *api.Client
	session *session.Manager
	m       *Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.Discard()
	e := &env{backend: fakebackend.New(t), net: fakebackend.NewNetwork()}
	e.backend.AddUser("42", "rider@example.com", "secret", api.RoleRider)

	store := session.NewStore(storage.NewMemory(), log)
	e.client = api.NewClient(e.backend.URL(), e.net.Client(), api.NewQueue(storage.NewMemory()), store, log)
	e.session = session.NewManager(store, e.client, log)
	e.m = NewManager(e.session, e.client, log)
	if !e.session.Login(context.Background(), "rider@example.com", "secret") {
		t.Fatalf("login: %v", e.session.LastError())
	}
	return e
}

func order(id, status string) fakebackend.Order {
	return fakebackend.Order{
		ID:               id,
		RiderID:          "42",
		Status:           status,
		PickupLocation:   fakebackend.Location{Latitude: 1.0, Longitude: 1.0, Address: "Kitchen"},
		DeliveryLocation: fakebackend.Location{Latitude: 1.01, Longitude: 1.01, Address: "Door"},
		CreatedAt:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		TotalAmount:      24.5,
		DeliveryFee:      3,
	}
}

func ids(orders []Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID.String()
	}
	return out
}

func TestFetchAllPartitionsByStatus(t *testing.T) {
	e := newEnv(t)
	other := order("9", StatusDelivering)
	other.RiderID = "77"
	e.backend.SetOrders(
		order("1", StatusAssigned),
		order("2", StatusPickedUp),
		order("3", StatusDelivering),
		order("4", StatusDelivered),
		order("5", StatusCancelled),
		other,
	)

	if err := e.m.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := e.m.Snapshot()
	if got := strings.Join(ids(snap.Active), ","); got != "1,2,3" {
		t.Errorf("active = %s", got)
	}
	if got := strings.Join(ids(snap.History), ","); got != "4,5" {
		t.Errorf("history = %s", got)
	}

	seen := map[string]int{}
	for _, id := range append(ids(snap.Active), ids(snap.History)...) {
		seen[id]++
	}
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		if seen[id] != 1 {
			t.Errorf("order %s appears %d times", id, seen[id])
		}
	}
	if snap.SyncedAt.IsZero() {
		t.Error("sync time not set")
	}
}

func TestFetchAllReplacesState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("1", StatusAssigned), order("2", StatusDelivering))
	_ = e.m.FetchAll(ctx)

	e.backend.SetOrders(order("2", StatusDelivered))
	if err := e.m.FetchAll(ctx); err != nil {
		t.Fatal(err)
	}
	snap := e.m.Snapshot()
	if len(snap.Active) != 0 || len(snap.History) != 1 || snap.History[0].ID != "2" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestFetchAllFailureKeepsState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("1", StatusAssigned))
	_ = e.m.FetchAll(ctx)

	e.net.SetDown(true)
	err := e.m.FetchAll(ctx)
	if !errors.Is(err, api.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if len(e.m.Snapshot().Active) != 1 {
		t.Error("failed fetch changed local state")
	}
	if !errors.Is(e.m.LastError(), api.ErrNetwork) {
		t.Errorf("LastError = %v", e.m.LastError())
	}
}

func TestDeliveredMovesToHistoryBeforeResync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("7", StatusDelivering), order("3", StatusDelivered))
	if err := e.m.FetchAll(ctx); err != nil {
		t.Fatal(err)
	}

	snaps := make(chan DeliverySet, 4)
	e.m.Subscribe(func(s DeliverySet) { snaps <- s })
	release := e.backend.GateOrders()
	defer release()

	before := time.Now().UTC()
	done := make(chan bool, 1)
	go func() { done <- e.m.UpdateStatus(ctx, "7", StatusDelivered) }()

	var optimistic DeliverySet
	select {
	case optimistic = <-snaps:
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published after the confirmed status change")
	}
	select {
	case <-done:
		t.Fatal("UpdateStatus returned before the resync completed")
	default:
	}

	for _, s := range []DeliverySet{optimistic, e.m.Snapshot()} {
		if len(s.Active) != 0 {
			t.Errorf("order still active: %v", ids(s.Active))
		}
		if len(s.History) != 2 || s.History[0].ID != "7" {
			t.Fatalf("order 7 not at the head of history: %v", ids(s.History))
		}
		got := s.History[0]
		if got.Status != StatusDelivered || got.CompletedAt == nil || got.CompletedAt.Before(before) {
			t.Errorf("unexpected optimistic entry %+v", got)
		}
	}

	release()
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("UpdateStatus failed: %v", e.m.LastError())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("UpdateStatus did not return")
	}
	if n := e.backend.Count(http.MethodGet, "/riders/42/orders"); n != 2 {
		t.Errorf("orders fetched %d times, want 2", n)
	}
	server, _ := e.backend.Order("7")
	final := e.m.Snapshot().History
	var seven Order
	for _, o := range final {
		if o.ID == "7" {
			seven = o
		}
	}
	if seven.CompletedAt == nil || !seven.CompletedAt.Equal(*server.CompletedAt) {
		t.Errorf("completion time not taken from the backend: %v vs %v", seven.CompletedAt, server.CompletedAt)
	}
}

func TestCancelledMovesToHistoryAndResyncs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("5", StatusAssigned), order("8", StatusPickedUp))
	if err := e.m.FetchAll(ctx); err != nil {
		t.Fatal(err)
	}

	var optimistic []DeliverySet
	e.m.Subscribe(func(s DeliverySet) { optimistic = append(optimistic, s) })
	if !e.m.UpdateStatus(ctx, "5", StatusCancelled) {
		t.Fatalf("UpdateStatus failed: %v", e.m.LastError())
	}

	if len(optimistic) == 0 {
		t.Fatal("no snapshot published")
	}
	first := optimistic[0]
	if got := ids(first.Active); len(got) != 1 || got[0] != "8" {
		t.Errorf("active after cancel = %v", got)
	}
	if len(first.History) != 1 || first.History[0].ID != "5" || first.History[0].Status != StatusCancelled {
		t.Fatalf("history after cancel = %+v", first.History)
	}
	if first.History[0].CompletedAt != nil {
		t.Error("a cancelled order must not get a completion time")
	}
	if n := e.backend.Count(http.MethodGet, "/riders/42/orders"); n != 2 {
		t.Errorf("orders fetched %d times, want a resync", n)
	}
	final := e.m.Snapshot()
	if len(final.History) != 1 || final.History[0].ID != "5" || len(final.Active) != 1 {
		t.Errorf("resynced split = active %v history %v", ids(final.Active), ids(final.History))
	}
}

func TestTransitionOfUncachedOrderCarriesRider(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("9", StatusPickedUp))

	var got []Order
	e.m.OnTransition(func(o Order) { got = append(got, o) })
	if !e.m.UpdateStatus(ctx, "9", StatusDelivering) {
		t.Fatalf("UpdateStatus failed: %v", e.m.LastError())
	}
	if len(got) != 1 || got[0].ID != "9" || got[0].RiderID != "42" {
		t.Errorf("transitions = %+v", got)
	}
}

func TestUpdateStatusFailureLeavesStateUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("7", StatusDelivering))
	_ = e.m.FetchAll(ctx)

	t.Run("server", func(t *testing.T) {
		e.backend.Fail(http.MethodPut, "/orders/7/rider-status", http.StatusInternalServerError)
		defer e.backend.Recover(http.MethodPut, "/orders/7/rider-status")
		if e.m.UpdateStatus(ctx, "7", StatusDelivered) {
			t.Fatal("expected failure")
		}
		if !errors.Is(e.m.LastError(), api.ErrServer) {
			t.Errorf("LastError = %v", e.m.LastError())
		}
		if snap := e.m.Snapshot(); len(snap.Active) != 1 || snap.Active[0].Status != StatusDelivering {
			t.Errorf("state changed: %+v", snap)
		}
	})

	t.Run("network is not queued", func(t *testing.T) {
		e.net.SetDown(true)
		defer e.net.SetDown(false)
		if e.m.UpdateStatus(ctx, "7", StatusDelivered) {
			t.Fatal("expected failure")
		}
		if !errors.Is(e.m.LastError(), api.ErrNetwork) {
			t.Errorf("LastError = %v", e.m.LastError())
		}
		if n, _ := e.client.Queue().Len(ctx); n != 0 {
			t.Errorf("status change queued (%d pending)", n)
		}
		if len(e.m.Snapshot().Active) != 1 {
			t.Error("state changed")
		}
	})
}

func TestUpdateStatusGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("7", StatusAssigned))
	_ = e.m.FetchAll(ctx)

	if e.m.UpdateStatus(ctx, "", StatusPickedUp) || !errors.Is(e.m.LastError(), ErrInvalidArgument) {
		t.Errorf("empty id: %v", e.m.LastError())
	}
	if e.m.UpdateStatus(ctx, "7", StatusDelivered) || !errors.Is(e.m.LastError(), ErrInvalidTransition) {
		t.Errorf("assigned to delivered: %v", e.m.LastError())
	}
	if n := e.backend.Count(http.MethodPut, "/orders/7/rider-status"); n != 0 {
		t.Errorf("refused change reached the backend %d times", n)
	}

	if !e.m.UpdateStatus(ctx, "7", StatusPickedUp) {
		t.Fatal(e.m.LastError())
	}
	snap := e.m.Snapshot()
	if len(snap.Active) != 1 || snap.Active[0].Status != StatusPickedUp {
		t.Errorf("non-terminal change not applied in place: %+v", snap)
	}
	if n := e.backend.Count(http.MethodGet, "/riders/42/orders"); n != 1 {
		t.Errorf("non-terminal change triggered a resync")
	}
}

func TestTransitionHook(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("7", StatusPickedUp))
	_ = e.m.FetchAll(ctx)

	var got []Order
	e.m.OnTransition(func(o Order) { got = append(got, o) })
	e.m.UpdateStatus(ctx, "7", StatusDelivering)
	if len(got) != 1 || got[0].ID != "7" || got[0].Status != StatusDelivering {
		t.Errorf("transitions = %+v", got)
	}
}

func TestGetDetails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := order("7", StatusDelivering)
	o.Items = []fakebackend.Item{{Name: "Noodles", Quantity: 2, Price: 9.5}}
	o.CustomerPhone = "+15550100"
	e.backend.SetOrders(o)

	if _, err := e.m.GetDetails(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty id: %v", err)
	}
	if _, err := e.m.GetDetails(ctx, "99"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("missing order: %v", err)
	}
	got, err := e.m.GetDetails(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Noodles" || got.CustomerPhone != "+15550100" {
		t.Errorf("unexpected detail %+v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	e := newEnv(t)
	o := order("7", StatusDelivered)
	done := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	o.CompletedAt = &done
	e.backend.SetOrders(o)
	_ = e.m.FetchAll(context.Background())

	snap := e.m.Snapshot()
	snap.History[0].Status = "tampered"
	*snap.History[0].CompletedAt = time.Time{}
	again := e.m.Snapshot().History[0]
	if again.Status != StatusDelivered || !again.CompletedAt.Equal(done) {
		t.Error("snapshot shares memory with the manager")
	}
}

func TestLogoutClearsDeliveries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.backend.SetOrders(order("1", StatusAssigned), order("2", StatusDelivered))
	_ = e.m.FetchAll(ctx)

	e.session.Logout(ctx)
	snap := e.m.Snapshot()
	if len(snap.Active)+len(snap.History) != 0 {
		t.Errorf("deliveries kept after logout: %+v", snap)
	}
	if err := e.m.FetchAll(ctx); !errors.Is(err, api.ErrNoSession) {
		t.Errorf("FetchAll while signed out: %v", err)
	}
}

func TestHandler(t *testing.T) {
	e := newEnv(t)
	e.backend.SetOrders(order("7", StatusDelivering))
	srv := httptest.NewServer(NewHandler(e.m).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(e.m.Snapshot().Active) != 1 {
		t.Fatalf("refresh status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/7/status", strings.NewReader(`{"status":"delivered"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status update answered %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/99")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing order answered %d", resp.StatusCode)
	}
}
