package repository

import (
	"context"
	"errors"

	"mealmate/internal/domain"
)

// ErrDuplicateKey is returned when an insert violates a unique constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// Finders return (nil, nil) when no row matches. Methods suffixed ForUpdate take a
// row lock that is held until the surrounding transaction ends; callers lock an
// order before its payment and a payment before its refunds.

type CartRepository interface {
	FindByCustomer(ctx context.Context, customerID uint64) (*domain.Cart, error)
	FindByCustomerForUpdate(ctx context.Context, customerID uint64) (*domain.Cart, error)
	GetOrCreateForUpdate(ctx context.Context, customerID uint64) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	CreateItem(ctx context.Context, item *domain.CartItem) error
	UpdateItem(ctx context.Context, item *domain.CartItem) error
	DeleteItem(ctx context.Context, cartID, menuItemID uint64) error
	ClearItems(ctx context.Context, cartID uint64) error
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Update(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uint64) (*domain.Order, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID uint64, limit, offset int) ([]domain.Order, error)
	ListByRestaurant(ctx context.Context, restaurantID uint64, limit, offset int) ([]domain.Order, error)
	AppendHistory(ctx context.Context, entry *domain.OrderStatusHistory) error
	History(ctx context.Context, orderID uint64) ([]domain.OrderStatusHistory, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	Update(ctx context.Context, payment *domain.Payment) error
	FindByOrderID(ctx context.Context, orderID uint64) (*domain.Payment, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID uint64) (*domain.Payment, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error)
}

type RefundRepository interface {
	Create(ctx context.Context, refund *domain.Refund) error
	Update(ctx context.Context, refund *domain.Refund) error
	FindByID(ctx context.Context, id uint64) (*domain.Refund, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*domain.Refund, error)
	FindByGatewayRefundID(ctx context.Context, gatewayRefundID string) (*domain.Refund, error)
	ListByPayment(ctx context.Context, paymentID uint64) ([]domain.Refund, error)
}

type WebhookRepository interface {
	Create(ctx context.Context, webhook *domain.PaymentWebhook) error
	Update(ctx context.Context, webhook *domain.PaymentWebhook) error
	FindByWebhookIDForUpdate(ctx context.Context, webhookID string) (*domain.PaymentWebhook, error)
}

// LedgerRepository is append-only.
type LedgerRepository interface {
	Append(ctx context.Context, entry *domain.Transaction) error
	ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]domain.Transaction, error)
	ListByOrder(ctx context.Context, orderID uint64) ([]domain.Transaction, error)
}

// Store groups the repositories over one connection or transaction.
type Store interface {
	Carts() CartRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Refunds() RefundRepository
	Webhooks() WebhookRepository
	Ledger() LedgerRepository

	// WithTx runs fn inside a transaction. The Store passed to fn is bound to it.
	// Nested calls use savepoints.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
