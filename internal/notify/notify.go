package notify

import (
	"context"

	"go.uber.org/zap"

	"printflow/internal/domain"
)

// Notification tells interested parties that an order moved.
type Notification struct {
	Event       string             `json:"event"`
	OrderID     int64              `json:"order_id"`
	NewStatus   domain.OrderStatus `json:"new_status"`
	RecipientID int64              `json:"recipient_id,omitempty"`
	ActorID     int64              `json:"actor_id,omitempty"`
	Message     string             `json:"message"`
	TS          string             `json:"ts"`
}

// Sink delivers notifications best effort. Emit must not block on the
// network and never reports failure to the caller.
type Sink interface {
	Emit(ctx context.Context, n Notification)
}

// LogSink writes notifications to a zap logger.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Emit(_ context.Context, n Notification) {
	if s.Log == nil {
		return
	}
	s.Log.Info("notification",
		zap.String("event", n.Event),
		zap.Int64("order_id", n.OrderID),
		zap.String("status", string(n.NewStatus)),
		zap.Int64("recipient_id", n.RecipientID),
		zap.String("message", n.Message))
}

// Multi fans out to every sink.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, n Notification) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, n)
		}
	}
}

// Nop drops everything.
type Nop struct{}

func (Nop) Emit(context.Context, Notification) {}
