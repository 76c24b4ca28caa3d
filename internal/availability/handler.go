package availability

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier-client/internal/api"
	"courier-client/internal/lifecycle"
)

// Handler exposes the availability controller to the local UI shell.
type Handler struct {
	c   *Controller
	app *lifecycle.Manual
}

// NewHandler wires a handler to c. App state reports are emitted on app.
func NewHandler(c *Controller, app *lifecycle.Manual) *Handler {
	return &Handler{c: c, app: app}
}

// Routes returns a chi.Router for the /availability mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Post("/online", h.Online)
	r.Post("/offline", h.Offline)
	r.Post("/refresh", h.Refresh)
	r.Post("/tracking/retry", h.RetryTracking)
	r.Put("/accepting", h.SetAccepting)
	r.Post("/app-state", h.AppState)
	return r
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.c.State())
}

func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.c.MarkOnline(r.Context()))
}

func (h *Handler) Offline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.c.MarkOffline(r.Context()))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.c.Refresh(r.Context()))
}

func (h *Handler) RetryTracking(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.c.RetryTracking(r.Context()))
}

func (h *Handler) SetAccepting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accepting bool `json:"accepting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	h.respond(w, h.c.SetAccepting(r.Context(), req.Accepting))
}

func (h *Handler) AppState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s, err := lifecycle.Parse(req.State)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if h.app != nil {
		h.app.Emit(s)
	} else {
		h.c.HandleAppState(r.Context(), s)
	}
	writeJSON(w, http.StatusOK, h.c.State())
}

// respond answers with the controller state. Going online with tracking
// unavailable still succeeded as far as the backend is concerned.
func (h *Handler) respond(w http.ResponseWriter, err error) {
	status := http.StatusOK
	switch {
	case err == nil, errors.Is(err, ErrTrackingUnavailable):
	case errors.Is(err, ErrOffline):
		status = http.StatusConflict
	default:
		status = api.HTTPStatus(err)
	}
	writeJSON(w, status, h.c.State())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
