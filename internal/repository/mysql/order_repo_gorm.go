package mysql

import (
	"context"
	"errors"

	"mealmate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepo struct {
	db *gorm.DB
}

// Create inserts the order and its items under a savepoint so a duplicate order
// number leaves the enclosing transaction usable for a retry.
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(order).Error
	})
	if err != nil {
		return translate(err)
	}
	if order.ID == 0 {
		return errors.New("failed to assign order ID")
	}
	return nil
}

func (r *orderRepo) Update(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error
}

func (r *orderRepo) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	return first[domain.Order](r.db.WithContext(ctx).Preload("Items").Where("id = ?", id))
}

func (r *orderRepo) FindByIDForUpdate(ctx context.Context, id uint64) (*domain.Order, error) {
	return first[domain.Order](forUpdate(r.db.WithContext(ctx)).Preload("Items").Where("id = ?", id))
}

func (r *orderRepo) ListByCustomer(ctx context.Context, customerID uint64, limit, offset int) ([]domain.Order, error) {
	var out []domain.Order
	err := page(r.db.WithContext(ctx), limit, offset).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

func (r *orderRepo) ListByRestaurant(ctx context.Context, restaurantID uint64, limit, offset int) ([]domain.Order, error) {
	var out []domain.Order
	err := page(r.db.WithContext(ctx), limit, offset).
		Preload("Items").
		Where("restaurant_id = ?", restaurantID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

func (r *orderRepo) AppendHistory(ctx context.Context, entry *domain.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *orderRepo) History(ctx context.Context, orderID uint64) ([]domain.OrderStatusHistory, error) {
	var out []domain.OrderStatusHistory
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&out).Error
	return out, err
}
