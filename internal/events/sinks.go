package events

import (
	"context"

	"courier-client/pkg/kafka"
	"courier-client/pkg/rabbitmq"
)

// KafkaTopic maps an event type to its Kafka topic. Types with no topic are
// not sent to Kafka.
func KafkaTopic(typ string) (string, bool) {
	switch typ {
	case TypeRiderOnline, TypeRiderOffline:
		return kafka.TopicRiderAvailability, true
	case TypeRiderPosition:
		return kafka.TopicRiderPosition, true
	case TypeDeliveryStatus:
		return kafka.TopicDeliveryStatus, true
	}
	return "", false
}

// KafkaSink publishes rider and delivery events keyed by rider ID.
type KafkaSink struct{ c *kafka.Client }

func NewKafkaSink(c *kafka.Client) *KafkaSink { return &KafkaSink{c: c} }

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	topic, ok := KafkaTopic(e.Type)
	if !ok {
		return nil
	}
	return s.c.Publish(ctx, topic, e.RiderID, e)
}

// RabbitSink publishes every event to the courier topic exchange with the
// event type as routing key.
type RabbitSink struct{ p *rabbitmq.Publisher }

func NewRabbitSink(p *rabbitmq.Publisher) *RabbitSink { return &RabbitSink{p: p} }

func (s *RabbitSink) Publish(ctx context.Context, e Event) error {
	return s.p.PublishJSON(ctx, e.Type, e)
}
