package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier-client/pkg/kafka"
	"courier-client/pkg/logger"
)

type recorder struct {
	mu  sync.Mutex
	got []Event
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.got...)
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(8, logger.Discard())
	rec := &recorder{}
	bus.Attach("failing", SinkFunc(func(context.Context, Event) error { return errors.New("broker down") }))
	bus.Attach("rec", rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { bus.Run(ctx); close(done) }()

	bus.Publish(RiderAvailability("42", true))
	bus.Publish(DeliveryStatus("42", "7", "picked_up"))

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.events()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("events not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := rec.events()
	if got[0].Type != TypeRiderOnline || got[1].Type != TypeDeliveryStatus {
		t.Fatalf("order = %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].Online == nil || !*got[0].Online {
		t.Error("online flag missing")
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, logger.Discard())
	rec := &recorder{}
	bus.Attach("rec", rec)

	bus.Publish(New(TypeRiderOnline))
	bus.Publish(New(TypeRiderOffline))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	got := rec.events()
	if len(got) != 1 || got[0].Type != TypeRiderOnline {
		t.Fatalf("got %d events, want only the first", len(got))
	}
}

func TestKafkaTopic(t *testing.T) {
	cases := []struct {
		typ   string
		topic string
		ok    bool
	}{
		{TypeRiderOnline, kafka.TopicRiderAvailability, true},
		{TypeRiderOffline, kafka.TopicRiderAvailability, true},
		{TypeRiderPosition, kafka.TopicRiderPosition, true},
		{TypeDeliveryStatus, kafka.TopicDeliveryStatus, true},
		{TypeSessionChanged, "", false},
		{TypeDeliveriesSynced, "", false},
	}
	for _, tc := range cases {
		topic, ok := KafkaTopic(tc.typ)
		if topic != tc.topic || ok != tc.ok {
			t.Errorf("KafkaTopic(%q) = %q, %v", tc.typ, topic, ok)
		}
	}
}

func TestRiderPositionKeepsCaptureTime(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := RiderPosition("42", 12.9, 77.6, at)
	if !e.At.Equal(at) || e.Position.Lat != 12.9 {
		t.Fatalf("got %+v", e)
	}
}
