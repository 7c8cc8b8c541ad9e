package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart belongs to exactly one customer. RestaurantID is nil while the cart is empty.
type Cart struct {
	ID           uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	CustomerID   uint64     `json:"customerId" gorm:"not null;uniqueIndex"`
	RestaurantID *uint64    `json:"restaurantId"`
	Items        []CartItem `json:"items" gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
}

type CartItem struct {
	ID                  uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	CartID              uint64          `json:"cartId" gorm:"not null;uniqueIndex:idx_cart_menu_item"`
	MenuItemID          uint64          `json:"menuItemId" gorm:"not null;uniqueIndex:idx_cart_menu_item"`
	RestaurantID        uint64          `json:"restaurantId" gorm:"not null"`
	Name                string          `json:"name" gorm:"size:200;not null"`
	Quantity            int             `json:"quantity" gorm:"not null"`
	UnitPrice           decimal.Decimal `json:"unitPrice" gorm:"type:decimal(10,2);not null"`
	SpecialInstructions string          `json:"specialInstructions,omitempty" gorm:"type:text"`
	CreatedAt           time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt           time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CartTotals struct {
	TotalPrice decimal.Decimal `json:"totalPrice"`
	ItemCount  int             `json:"itemCount"`
}

func (c *Cart) Totals() CartTotals {
	totals := CartTotals{TotalPrice: decimal.Zero}
	for _, item := range c.Items {
		totals.TotalPrice = totals.TotalPrice.Add(item.Subtotal())
		totals.ItemCount += item.Quantity
	}
	return totals
}

func (c *Cart) Item(menuItemID uint64) *CartItem {
	for i := range c.Items {
		if c.Items[i].MenuItemID == menuItemID {
			return &c.Items[i]
		}
	}
	return nil
}
