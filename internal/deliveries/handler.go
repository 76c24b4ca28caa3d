package deliveries

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier-client/internal/api"
)

// Handler exposes the delivery manager to the local UI shell.
type Handler struct{ m *Manager }

func NewHandler(m *Manager) *Handler { return &Handler{m: m} }

// Routes returns a chi.Router for the /deliveries mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/refresh", h.Refresh)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/status", h.UpdateStatus)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Snapshot())
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.m.FetchAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.m.Snapshot())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.m.GetDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if !h.m.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status) {
		writeError(w, h.m.LastError())
		return
	}
	writeJSON(w, http.StatusOK, h.m.Snapshot())
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, api.HTTPStatus(err), map[string]string{
		"error":   api.Kind(err),
		"message": api.Describe(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
