package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier-client/internal/api"
)

// Handler exposes the session to the local UI shell.
type Handler struct{ m *Manager }

func NewHandler(m *Manager) *Handler { return &Handler{m: m} }

// Routes returns a chi.Router for the /session mount point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	return r
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Status())
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if !h.m.Login(r.Context(), req.Email, req.Password) {
		err := h.m.LastError()
		writeJSON(w, api.HTTPStatus(err), h.m.Status())
		return
	}
	writeJSON(w, http.StatusOK, h.m.Status())
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.m.Logout(r.Context())
	writeJSON(w, http.StatusOK, h.m.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
