package mysql

import (
	"context"

	"mealmate/internal/domain"

	"gorm.io/gorm"
)

type paymentRepo struct {
	db *gorm.DB
}

func (r *paymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(payment).Error
	})
	return translate(err)
}

func (r *paymentRepo) Update(ctx context.Context, payment *domain.Payment) error {
	return translate(r.db.WithContext(ctx).Save(payment).Error)
}

func (r *paymentRepo) FindByOrderID(ctx context.Context, orderID uint64) (*domain.Payment, error) {
	return first[domain.Payment](r.db.WithContext(ctx).Where("order_id = ?", orderID))
}

func (r *paymentRepo) FindByOrderIDForUpdate(ctx context.Context, orderID uint64) (*domain.Payment, error) {
	return first[domain.Payment](forUpdate(r.db.WithContext(ctx)).Where("order_id = ?", orderID))
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error) {
	return first[domain.Payment](r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID))
}

func (r *paymentRepo) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	return first[domain.Payment](r.db.WithContext(ctx).Where("gateway_payment_id = ?", gatewayPaymentID))
}

type refundRepo struct {
	db *gorm.DB
}

func (r *refundRepo) Create(ctx context.Context, refund *domain.Refund) error {
	return translate(r.db.WithContext(ctx).Create(refund).Error)
}

func (r *refundRepo) Update(ctx context.Context, refund *domain.Refund) error {
	return r.db.WithContext(ctx).Save(refund).Error
}

func (r *refundRepo) FindByID(ctx context.Context, id uint64) (*domain.Refund, error) {
	return first[domain.Refund](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *refundRepo) FindByIDForUpdate(ctx context.Context, id uint64) (*domain.Refund, error) {
	return first[domain.Refund](forUpdate(r.db.WithContext(ctx)).Where("id = ?", id))
}

func (r *refundRepo) FindByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*domain.Refund, error) {
	return first[domain.Refund](r.db.WithContext(ctx).Where("gateway_refund_id = ?", gatewayRefundID))
}

func (r *refundRepo) ListByPayment(ctx context.Context, paymentID uint64) ([]domain.Refund, error) {
	var out []domain.Refund
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id").Find(&out).Error
	return out, err
}
