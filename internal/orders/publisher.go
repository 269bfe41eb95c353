package orders

import (
	"context"
	kafkax "github.com/ariefcatur/stockkeeper/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

// Publisher emits order lifecycle events after a transaction commits.
type Publisher interface {
	Publish(ctx context.Context, eventType, orderID string, payload any) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }

// EventPublisher wraps payloads in the v1 envelope and hands them to the kafka producer.
type EventPublisher struct {
	Producer *kafkax.Producer
	Service  string
}

func (p *EventPublisher) Publish(ctx context.Context, eventType, orderID string, payload any) error {
	body, err := kafkax.Marshal(payload)
	if err != nil {
		return err
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		TraceID:       TraceID(ctx),
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := kafkax.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, PartitionKey(orderID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}

type traceKey struct{}

// WithTraceID stores the request id that ends up in emitted envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
