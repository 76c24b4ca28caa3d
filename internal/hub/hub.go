package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"courier-client/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket allows one concurrent writer; this enforces that.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *safeConn) readMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *safeConn) close() { c.ws.Close() }

// Hub pushes courier events to connected UI clients. It implements
// events.Sink.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns []*safeConn
}

func New(log *slog.Logger) *Hub {
	return &Hub{log: log.With("component", "hub")}
}

// Routes returns a chi.Router for the /ws mount point.
func (h *Hub) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", h.HandleWS)
	return r
}

// HandleWS upgrades the connection and subscribes it to every event.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	conn := &safeConn{ws: ws}

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	h.log.Debug("client connected", "remote", r.RemoteAddr)

	// Block until the client disconnects
	for {
		if _, _, err := conn.readMessage(); err != nil {
			break
		}
	}

	h.removeConn(conn)
	conn.close()
	h.log.Debug("client disconnected", "remote", r.RemoteAddr)
}

// Clients reports how many connections are subscribed.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish writes e to every connected client. A failed write is logged and
// the connection is left for its reader to reap.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	h.mu.RLock()
	conns := append([]*safeConn(nil), h.conns...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(e); err != nil {
			h.log.Warn("write failed", "type", e.Type, "error", err)
		}
	}
	return nil
}

func (h *Hub) removeConn(conn *safeConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, c := range h.conns {
		if c == conn {
			h.conns = append(h.conns[:i], h.conns[i+1:]...)
			break
		}
	}
}
