package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// QueueHandler exposes the pending-request queue to the local UI shell.
type QueueHandler struct{ c *Client }

func NewQueueHandler(c *Client) *QueueHandler { return &QueueHandler{c: c} }

// Routes returns a chi.Router for the /queue mount point.
func (h *QueueHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/replay", h.Replay)
	return r
}

type queueView struct {
	Pending []QueuedRequest `json:"pending"`
	Count   int             `json:"count"`
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	view := queueView{Pending: []QueuedRequest{}}
	if q := h.c.Queue(); q != nil {
		items, err := q.Pending(r.Context())
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrStorage, err)
			writeJSON(w, HTTPStatus(err), map[string]string{"error": Kind(err), "message": Describe(err)})
			return
		}
		if items != nil {
			view.Pending = items
		}
	}
	view.Count = len(view.Pending)
	writeJSON(w, http.StatusOK, view)
}

func (h *QueueHandler) Replay(w http.ResponseWriter, r *http.Request) {
	res, err := h.c.ReplayQueue(r.Context())
	if err != nil {
		writeJSON(w, HTTPStatus(err), map[string]any{"error": Kind(err), "message": Describe(err), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
