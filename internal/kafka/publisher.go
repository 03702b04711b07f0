package kafka

import (
	"context"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"time"
)

// Sink is where encoded envelopes go. *Producer is the real one.
type Sink interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

const envelopeVersion = 1

func envelope(ctx context.Context, service, eventType, correlationID string, at time.Time, payload any) orders.Envelope {
	if at.IsZero() {
		at = time.Now()
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    at.UTC(),
		Producer:      service,
		CorrelationID: correlationID,
		Payload:       MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

func headers(eventType string) []kafka.Header {
	return []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
}

// EventPublisher writes lifecycle events to the orders.lifecycle topic, keyed by order id.
type EventPublisher struct {
	Sink    Sink
	Service string
}

var _ orders.EventPublisher = (*EventPublisher)(nil)

func (p *EventPublisher) Publish(ctx context.Context, e orders.Event) error {
	env := envelope(ctx, p.Service, e.Type, e.Order.ID, e.At, e.Payload())
	return p.Sink.Publish(ctx, orders.PartitionKey(e.Order.ID), MustMarshal(env), headers(e.Type)...)
}

// Notifier hands buyer notifications to the notifier service, keyed by user
// so one buyer's inbox is filed in order.
type Notifier struct {
	Sink    Sink
	Service string
}

var _ orders.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, msg orders.Notification) error {
	env := envelope(ctx, n.Service, orders.EventNotificationRequested, msg.OrderID, time.Time{}, orders.NotificationPayload{
		UserID:  msg.UserID,
		OrderID: msg.OrderID,
		Message: msg.Message,
	})
	return n.Sink.Publish(ctx, []byte(msg.UserID), MustMarshal(env), headers(orders.EventNotificationRequested)...)
}
