// Package fakebackend is an in-process stand-in for the delivery backend,
// used by tests across the module.
package fakebackend

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"courier-client/pkg/jwt"
)

var secret = []byte("fake-backend-secret")

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Item struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Order struct {
	ID               string     `json:"id"`
	RiderID          string     `json:"rider_id"`
	Status           string     `json:"status"`
	PickupLocation   Location   `json:"pickup_location"`
	DeliveryLocation Location   `json:"delivery_location"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TotalAmount      float64    `json:"total_amount"`
	DeliveryFee      float64    `json:"delivery_fee"`
	RestaurantName   string     `json:"restaurant_name,omitempty"`
	RestaurantPhone  string     `json:"restaurant_phone,omitempty"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	Items            []Item     `json:"items,omitempty"`
}

type Rider struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	IsAvailable bool   `json:"is_available"`
}

type user struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	password string
}

// Call is one request the backend received.
type Call struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type Backend struct {
	Server *httptest.Server

	mu         sync.Mutex
	users      map[string]*user  // by email
	tokens     map[string]string // token -> user id
	riders     map[string]*Rider
	orders     map[string]*Order
	orderSeq   []string
	locations  []Location
	calls      []Call
	failures   map[string]int
	ordersGate chan struct{}
}

// Cleaner registers teardown work; *testing.T and *testing.B satisfy it.
type Cleaner interface {
	Cleanup(func())
}

// New starts a backend that is closed when c runs its cleanups.
func New(c Cleaner) *Backend {
	b := &Backend{
		users:    make(map[string]*user),
		tokens:   make(map[string]string),
		riders:   make(map[string]*Rider),
		orders:   make(map[string]*Order),
		failures: make(map[string]int),
	}
	b.Server = httptest.NewServer(b.routes())
	c.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(b.record)
	r.Use(b.inject)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/login", b.login)

	r.Group(func(r chi.Router) {
		r.Use(b.requireAuth)
		r.Get("/auth/profile", b.profile)
		r.Get("/riders/{id}", b.getRider)
		r.Put("/riders/{id}", b.updateRider)
		r.Put("/riders/{id}/availability", b.updateAvailability)
		r.Get("/riders/{id}/orders", b.listOrders)
		r.Get("/riders/delivery/{orderId}", b.orderDetail)
		r.Put("/orders/{orderId}/rider-status", b.updateOrderStatus)
		r.Post("/riders/location", b.reportLocation)
	})
	return r
}

// AddUser registers an account and its rider row.
func (b *Backend) AddUser(id, email, password, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[email] = &user{ID: id, Name: "User " + id, Email: email, Role: role, password: password}
	b.riders[id] = &Rider{ID: id, Status: "inactive"}
}

// IssueToken mints a token for an existing user, as a prior login would have.
func (b *Backend) IssueToken(userID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issue(userID)
}

func (b *Backend) issue(userID string) string {
	role := ""
	for _, u := range b.users {
		if u.ID == userID {
			role = u.Role
		}
	}
	tok, err := jwt.Sign(secret, userID, "", role, time.Hour)
	if err != nil {
		panic(err)
	}
	b.tokens[tok] = userID
	return tok
}

// Revoke makes every further call with token answer 401.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	delete(b.tokens, token)
	b.mu.Unlock()
}

// SetOrders replaces every order.
func (b *Backend) SetOrders(orders ...Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[string]*Order)
	b.orderSeq = nil
	for i := range orders {
		o := orders[i]
		b.orders[o.ID] = &o
		b.orderSeq = append(b.orderSeq, o.ID)
	}
}

// Order returns the backend's copy of an order.
func (b *Backend) Order(id string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Rider returns the backend's copy of a rider.
func (b *Backend) Rider(id string) Rider {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.riders[id]; ok {
		return *r
	}
	return Rider{}
}

// SetRiderStatus seeds a rider's status.
func (b *Backend) SetRiderStatus(id, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.riders[id]; ok {
		r.Status = status
	}
}

// Fail makes "METHOD /path" answer status until Recover is called.
func (b *Backend) Fail(method, path string, status int) {
	b.mu.Lock()
	b.failures[method+" "+path] = status
	b.mu.Unlock()
}

func (b *Backend) Recover(method, path string) {
	b.mu.Lock()
	delete(b.failures, method+" "+path)
	b.mu.Unlock()
}

// GateOrders blocks order list requests until the returned func is called.
func (b *Backend) GateOrders() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.ordersGate = gate
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			b.mu.Lock()
			b.ordersGate = nil
			b.mu.Unlock()
		})
	}
}

func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Count returns how many times "METHOD /path" was called.
func (b *Backend) Count(method, path string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (b *Backend) Locations() []Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Location(nil), b.locations...)
}

// ---- middleware ----

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		b.mu.Lock()
		b.calls = append(b.calls, Call{Method: r.Method, Path: r.URL.Path, Body: string(body), Auth: r.Header.Get("Authorization")})
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status, ok := b.failures[r.Method+" "+r.URL.Path]
		b.mu.Unlock()
		if ok {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		b.mu.Lock()
		id, ok := b.tokens[strings.TrimPrefix(auth, "Bearer ")]
		b.mu.Unlock()
		if !strings.HasPrefix(auth, "Bearer ") || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		r.Header.Set("X-User-ID", id)
		next.ServeHTTP(w, r)
	})
}

// ---- handlers ----

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[req.Email]
	if !ok || u.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": b.issue(u.ID), "user": u})
}

func (b *Backend) profile(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-User-ID")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.ID == id {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
}

func (b *Backend) getRider(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rd, ok := b.riders[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rider not found"})
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (b *Backend) updateRider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rd, ok := b.riders[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rider not found"})
		return
	}
	if req.Status != "" {
		rd.Status = req.Status
	}
	writeJSON(w, http.StatusOK, rd)
}

func (b *Backend) updateAvailability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsAvailable bool `json:"isAvailable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rd, ok := b.riders[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rider not found"})
		return
	}
	rd.IsAvailable = req.IsAvailable
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) listOrders(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	gate := b.ordersGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	riderID := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []Order{}
	for _, id := range b.orderSeq {
		if o := b.orders[id]; o.RiderID == riderID {
			out = append(out, *o)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) orderDetail(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[chi.URLParam(r, "orderId")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (b *Backend) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[chi.URLParam(r, "orderId")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	o.Status = req.Status
	if req.Status == "delivered" {
		now := time.Now().UTC()
		o.CompletedAt = &now
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (b *Backend) reportLocation(w http.ResponseWriter, r *http.Request) {
	var loc Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	b.mu.Lock()
	b.locations = append(b.locations, loc)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
