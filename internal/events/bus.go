package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives every event published on a Bus.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

type namedSink struct {
	name string
	sink Sink
}

// Bus fans events out to its sinks from a single goroutine so publishers
// never wait on a broker.
type Bus struct {
	log     *slog.Logger
	ch      chan Event
	timeout time.Duration

	mu    sync.RWMutex
	sinks []namedSink
}

func NewBus(buffer int, log *slog.Logger) *Bus {
	return &Bus{
		log:     log.With("component", "events"),
		ch:      make(chan Event, buffer),
		timeout: 5 * time.Second,
	}
}

// Attach adds a sink. name is used in logs.
func (b *Bus) Attach(name string, s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
	b.mu.Unlock()
}

// Publish enqueues e. When the buffer is full the event is dropped.
func (b *Bus) Publish(e Event) {
	select {
	case b.ch <- e:
	default:
		b.log.Warn("event buffer full, dropping event", "type", e.Type, "id", e.ID)
	}
}

// Run delivers events until ctx is done, then drains what is buffered.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.ch:
			b.deliver(ctx, e)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-b.ch:
					b.deliver(drain, e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	b.mu.RLock()
	sinks := append([]namedSink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, b.timeout)
		if err := s.sink.Publish(sctx, e); err != nil {
			b.log.Warn("event sink failed", "sink", s.name, "type", e.Type, "error", err)
		}
		cancel()
	}
}
