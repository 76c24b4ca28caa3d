package api

import (
	"context"
	"log/slog"
	"time"
)

// Watcher replays the pending queue once the backend is reachable again.
type Watcher struct {
	client   *Client
	path     string
	interval time.Duration
	log      *slog.Logger
}

func NewWatcher(client *Client, healthPath string, interval time.Duration, log *slog.Logger) *Watcher {
	return &Watcher{client: client, path: healthPath, interval: interval, log: log.With("component", "connectivity")}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one probe-and-replay step.
func (w *Watcher) Tick(ctx context.Context) {
	if w.client.Token() == "" || w.client.Queue() == nil {
		return
	}
	n, err := w.client.Queue().Len(ctx)
	if err != nil || n == 0 {
		return
	}
	if err := w.client.Probe(ctx, w.path); err != nil {
		w.log.Debug("backend still unreachable", "pending", n)
		return
	}
	if _, err := w.client.ReplayQueue(ctx); err != nil {
		w.log.Error("replay failed", "error", err)
	}
}
