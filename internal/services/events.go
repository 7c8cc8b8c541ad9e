package services

import (
	"context"
	"time"

	"mealmate/internal/domain"
	"mealmate/internal/infra/kafka"
	rabbit "mealmate/internal/infra/rabbitmq"
	"mealmate/internal/metrics"

	"go.uber.org/zap"
)

// EventSink publishes order events and ledger entries once their transaction has
// committed. Publish failures are logged and never fail the operation.
type EventSink struct {
	orders rabbit.PublisherInterface
	ledger kafka.LedgerPublisherInterface
	logger *zap.Logger
}

func NewEventSink(orders rabbit.PublisherInterface, ledger kafka.LedgerPublisherInterface, logger *zap.Logger) *EventSink {
	return &EventSink{orders: orders, ledger: ledger, logger: logger}
}

type orderMessage struct {
	pattern string
	event   domain.OrderEvent
}

// outbox collects side effects produced inside a transaction.
type outbox struct {
	orderEvents []orderMessage
	ledger      []*domain.Transaction
}

func (o *outbox) orderChanged(pattern string, order *domain.Order, previous domain.OrderStatus, at time.Time) {
	o.orderEvents = append(o.orderEvents, orderMessage{
		pattern: pattern,
		event:   domain.NewOrderEvent(order, previous, at),
	})
}

func (o *outbox) entry(t *domain.Transaction) {
	o.ledger = append(o.ledger, t)
}

func (s *EventSink) Flush(ctx context.Context, box *outbox) {
	for _, msg := range box.orderEvents {
		if msg.event.PreviousStatus != "" && msg.event.PreviousStatus != msg.event.Status {
			metrics.RecordOrderTransition(string(msg.event.PreviousStatus), string(msg.event.Status))
		}
		if s == nil || s.orders == nil {
			continue
		}
		if err := s.orders.Publish(ctx, msg.pattern, msg.event); err != nil {
			s.logger.Error("failed to publish order event",
				zap.String("pattern", msg.pattern),
				zap.Uint64("order_id", msg.event.OrderID),
				zap.Error(err),
			)
		}
	}

	if s == nil || s.ledger == nil {
		return
	}
	for _, entry := range box.ledger {
		if err := s.ledger.PublishTransaction(ctx, entry); err != nil {
			s.logger.Error("failed to publish ledger entry",
				zap.String("transaction_id", entry.TransactionID.String()),
				zap.String("type", string(entry.Type)),
				zap.Error(err),
			)
		}
	}
}
