package notify

import (
	"context"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Inbox interface {
	Push(ctx context.Context, userID string, n redisx.Notification) error
}

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Service files NotificationRequested events into each buyer's inbox.
type Service struct {
	Inbox Inbox
	Dedup Deduper
	Log   *zap.Logger
}

// HandleNotification is installed as the consumer handler for orders.notifications.
func (s *Service) HandleNotification(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// a poison message would block the partition forever
		s.log().Error("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventNotificationRequested {
		return nil
	}

	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.NotificationPayload](env.Payload)
	if err != nil {
		s.log().Error("drop notification with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if p.UserID == "" {
		return nil
	}

	if err := s.Inbox.Push(ctx, p.UserID, redisx.Notification{
		EventID: env.EventID,
		OrderID: p.OrderID,
		Message: p.Message,
		At:      env.OccurredAt,
	}); err != nil {
		return err
	}
	if err := s.Dedup.Mark(ctx, env.EventID); err != nil {
		s.log().Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
	s.log().Debug("notification filed", zap.String("user_id", p.UserID), zap.String("order_id", p.OrderID))
	return nil
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
