package mocks

import (
	"context"

	"mealmate/internal/domain"
	"mealmate/internal/infra"
	"mealmate/internal/infra/gateway"

	"github.com/stretchr/testify/mock"
)

type MockCatalog struct {
	mock.Mock
}

type MockGateway struct {
	mock.Mock
}

type MockPublisher struct {
	mock.Mock
}

type MockLedgerPublisher struct {
	mock.Mock
}

func (m *MockCatalog) GetMenuItem(ctx context.Context, id uint64) (*infra.MenuItemInfo, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infra.MenuItemInfo), args.Error(1)
}

func (m *MockCatalog) GetRestaurant(ctx context.Context, id uint64) (*infra.RestaurantInfo, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*infra.RestaurantInfo), args.Error(1)
}

func (m *MockGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Order), args.Error(1)
}

func (m *MockGateway) CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinor int64) (*gateway.Refund, error) {
	args := m.Called(ctx, gatewayPaymentID, amountMinor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

func (m *MockGateway) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error {
	args := m.Called(gatewayOrderID, gatewayPaymentID, signature)
	return args.Error(0)
}

func (m *MockGateway) VerifyWebhookSignature(body []byte, signature string) error {
	args := m.Called(body, signature)
	return args.Error(0)
}

func (m *MockGateway) KeyID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, data any) error {
	args := m.Called(ctx, routingKey, data)
	return args.Error(0)
}

func (m *MockLedgerPublisher) PublishTransaction(ctx context.Context, entry *domain.Transaction) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
