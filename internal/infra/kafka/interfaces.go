package kafka

import (
	"context"

	"mealmate/internal/domain"
)

type LedgerPublisherInterface interface {
	PublishTransaction(ctx context.Context, entry *domain.Transaction) error
}

var _ LedgerPublisherInterface = (*LedgerPublisher)(nil)
