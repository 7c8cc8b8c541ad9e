package mysql

import (
	"context"

	"mealmate/internal/domain"

	"gorm.io/gorm"
)

type ledgerRepo struct {
	db *gorm.DB
}

func (r *ledgerRepo) Append(ctx context.Context, entry *domain.Transaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *ledgerRepo) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := page(r.db.WithContext(ctx), limit, offset).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

func (r *ledgerRepo) ListByOrder(ctx context.Context, orderID uint64) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&out).Error
	return out, err
}

type webhookRepo struct {
	db *gorm.DB
}

func (r *webhookRepo) Create(ctx context.Context, webhook *domain.PaymentWebhook) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(webhook).Error
	})
	return translate(err)
}

func (r *webhookRepo) Update(ctx context.Context, webhook *domain.PaymentWebhook) error {
	return r.db.WithContext(ctx).Save(webhook).Error
}

func (r *webhookRepo) FindByWebhookIDForUpdate(ctx context.Context, webhookID string) (*domain.PaymentWebhook, error) {
	return first[domain.PaymentWebhook](forUpdate(r.db.WithContext(ctx)).Where("webhook_id = ?", webhookID))
}
