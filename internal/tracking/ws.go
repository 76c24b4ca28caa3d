package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSSource reads positions from a websocket feed, typically the device's
// location daemon. Each message is a JSON object with latitude, longitude and
// an optional unix timestamp.
type WSSource struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *slog.Logger
}

func NewWSSource(url string, log *slog.Logger) *WSSource {
	return &WSSource{
		url:    url,
		header: http.Header{},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With("component", "position_feed"),
	}
}

type positionMessage struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Open dials the feed. A 403 on the handshake is reported as
// ErrPermissionDenied.
func (s *WSSource) Open(ctx context.Context) (Feed, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("dial position feed: %w", err)
	}
	s.log.Info("position feed connected", "url", s.url)

	f := &wsFeed{conn: conn, ch: make(chan Sample, 16), log: s.log}
	go f.read()
	return f, nil
}

type wsFeed struct {
	conn *websocket.Conn
	ch   chan Sample
	log  *slog.Logger
	once sync.Once
}

func (f *wsFeed) Samples() <-chan Sample { return f.ch }

func (f *wsFeed) read() {
	defer close(f.ch)
	for {
		var msg positionMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				f.log.Debug("position feed ended", "error", err)
			}
			return
		}
		at := time.Now()
		if msg.Timestamp > 0 {
			at = time.Unix(msg.Timestamp, 0)
		}
		f.ch <- Sample{Latitude: msg.Latitude, Longitude: msg.Longitude, CapturedAt: at}
	}
}

func (f *wsFeed) Close() error {
	var err error
	f.once.Do(func() { err = f.conn.Close() })
	return err
}
