// Package projector keeps the Redis order status read model in step with the
// order lifecycle events on the events topic.
package projector

import (
	"context"
	"encoding/json"
	kafkax "github.com/ariefcatur/stockkeeper/internal/kafka"
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type StatusWriter interface {
	Set(ctx context.Context, st redisx.OrderStatus) error
	Delete(ctx context.Context, orderID string) error
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Service struct {
	Status  StatusWriter
	Dedup   Deduper
	Metrics *metrics.ProjectorMetrics // optional
	Log     logrus.FieldLogger
}

// HandleOrderEvent is installed as the consumer handler. A returned error
// makes the consumer retry the message; undecodable messages are dropped.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.WithError(err).WithField("offset", m.Offset).Error("drop undecodable message")
		s.count("unknown", "malformed")
		return nil
	}
	log := s.Log.WithFields(logrus.Fields{"event_id": env.EventID, "event_type": env.EventType, "order_id": env.CorrelationID, "trace_id": env.TraceID})

	switch env.EventType {
	case orders.EventOrderCreated, orders.EventOrderItemsUpdated, orders.EventOrderStatusChanged, orders.EventOrderDeleted:
	default:
		log.Debug("ignore event")
		s.count(env.EventType, "ignored")
		return nil
	}

	// 2) dedup via Redis on event_id
	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		log.Debug("duplicate event")
		s.count(env.EventType, "duplicate")
		return nil
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.OrderPayload](env.Payload)
	if err != nil {
		log.WithError(err).Error("drop event with bad payload")
		s.count(env.EventType, "malformed")
		return nil
	}

	// 4) project
	if env.EventType == orders.EventOrderDeleted {
		err = s.Status.Delete(ctx, p.OrderID)
	} else {
		err = s.Status.Set(ctx, redisx.OrderStatus{
			OrderID:            p.OrderID,
			UserID:             p.UserID,
			Status:             p.Status,
			AllowedTransitions: p.AllowedTransitions,
			Total:              p.Total,
			UpdatedAt:          p.UpdatedAt,
		})
	}
	if err != nil {
		s.count(env.EventType, "error")
		return err
	}
	if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
		log.WithError(err).Warn("mark event processed")
	}

	log.WithField("status", p.Status).Info("order status projected")
	s.count(env.EventType, "ok")
	return nil
}

func (s *Service) count(eventType, outcome string) {
	if s.Metrics != nil {
		s.Metrics.Events.WithLabelValues(eventType, outcome).Inc()
	}
}
