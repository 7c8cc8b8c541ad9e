package mysql

import (
	"context"

	"mealmate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cartRepo struct {
	db *gorm.DB
}

func (r *cartRepo) FindByCustomer(ctx context.Context, customerID uint64) (*domain.Cart, error) {
	cart, err := first[domain.Cart](r.db.WithContext(ctx).Where("customer_id = ?", customerID))
	if err != nil || cart == nil {
		return nil, err
	}
	return cart, r.loadItems(ctx, cart)
}

func (r *cartRepo) FindByCustomerForUpdate(ctx context.Context, customerID uint64) (*domain.Cart, error) {
	cart, err := first[domain.Cart](forUpdate(r.db.WithContext(ctx)).Where("customer_id = ?", customerID))
	if err != nil || cart == nil {
		return nil, err
	}
	return cart, r.loadItems(ctx, cart)
}

// GetOrCreateForUpdate locks the customer's cart, creating it first if needed. A
// concurrent creator losing the unique race falls back to locking the winner's row.
func (r *cartRepo) GetOrCreateForUpdate(ctx context.Context, customerID uint64) (*domain.Cart, error) {
	cart, err := r.FindByCustomerForUpdate(ctx, customerID)
	if err != nil || cart != nil {
		return cart, err
	}

	created := &domain.Cart{CustomerID: customerID}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(created).Error
	})
	if err == nil {
		return created, nil
	}
	if !isDuplicate(err) {
		return nil, err
	}
	return r.FindByCustomerForUpdate(ctx, customerID)
}

func (r *cartRepo) Save(ctx context.Context, cart *domain.Cart) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(cart).Error
}

func (r *cartRepo) CreateItem(ctx context.Context, item *domain.CartItem) error {
	return translate(r.db.WithContext(ctx).Create(item).Error)
}

func (r *cartRepo) UpdateItem(ctx context.Context, item *domain.CartItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *cartRepo) DeleteItem(ctx context.Context, cartID, menuItemID uint64) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ? AND menu_item_id = ?", cartID, menuItemID).
		Delete(&domain.CartItem{}).Error
}

func (r *cartRepo) ClearItems(ctx context.Context, cartID uint64) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&domain.CartItem{}).Error
}

func (r *cartRepo) loadItems(ctx context.Context, cart *domain.Cart) error {
	return r.db.WithContext(ctx).Where("cart_id = ?", cart.ID).Order("id").Find(&cart.Items).Error
}
