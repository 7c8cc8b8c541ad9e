package services

import (
	"context"
	"fmt"
	"testing"

	"mealmate/internal/domain"
	"mealmate/internal/infra"
	"mealmate/internal/infra/gateway"
	"mealmate/internal/mocks"
	"mealmate/internal/repository"
	"mealmate/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	customer   = domain.Actor{ID: 1, Email: "asha@example.com", Role: domain.RoleCustomer}
	otherUser  = domain.Actor{ID: 2, Email: "ravi@example.com", Role: domain.RoleCustomer}
	owner      = domain.Actor{ID: 500, Email: "kitchen@spiceroute.in", Role: domain.RoleRestaurant}
	otherOwner = domain.Actor{ID: 501, Email: "hello@dosacorner.in", Role: domain.RoleRestaurant}
	admin      = domain.Actor{ID: 900, Email: "ops@mealmate.in", Role: domain.RoleAdmin}
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, expected string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, money(expected).Equal(got), "expected %s, got %s", expected, got.StringFixed(2))
}

type fixture struct {
	store       repository.Store
	catalog     *mocks.MockCatalog
	gateway     *mocks.MockGateway
	publisher   *mocks.MockPublisher
	ledgerPub   *mocks.MockLedgerPublisher
	events      *EventSink
	items       map[uint64]*infra.MenuItemInfo
	restaurants map[uint64]*infra.RestaurantInfo

	carts    *CartService
	orders   *OrderService
	payments *PaymentService
	refunds  *RefundService
	ledger   *LedgerService
}

// newFixture wires every service over a fresh sqlite store. Restaurant 1 (owner
// 500) sells items 10 and 11 with a 100.00 minimum order; restaurant 2 sells item 20.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, testutil.NewStore(t))
}

func newFixtureWithStore(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	logger := testutil.NewLogger(t)

	f := &fixture{
		store:     store,
		catalog:   new(mocks.MockCatalog),
		gateway:   new(mocks.MockGateway),
		publisher: new(mocks.MockPublisher),
		ledgerPub: new(mocks.MockLedgerPublisher),
		items: map[uint64]*infra.MenuItemInfo{
			10: {ID: 10, RestaurantID: 1, Name: "Paneer Tikka", Price: money("150.00"), IsAvailable: true},
			11: {ID: 11, RestaurantID: 1, Name: "Garlic Naan", Price: money("60.00"), DiscountPrice: ptr(money("50.00")), IsAvailable: true},
			12: {ID: 12, RestaurantID: 1, Name: "Seasonal Thali", Price: money("320.00"), IsAvailable: false},
			20: {ID: 20, RestaurantID: 2, Name: "Masala Dosa", Price: money("120.00"), IsAvailable: true},
		},
		restaurants: map[uint64]*infra.RestaurantInfo{
			1: {ID: 1, OwnerID: owner.ID, Name: "Spice Route", DeliveryFee: decimal.Zero, MinimumOrder: money("100.00"), CommissionRate: money("15"), IsActive: true},
			2: {ID: 2, OwnerID: otherOwner.ID, Name: "Dosa Corner", DeliveryFee: money("30.00"), MinimumOrder: decimal.Zero, CommissionRate: money("10"), IsActive: true},
		},
	}

	for id, item := range f.items {
		f.catalog.On("GetMenuItem", mock.Anything, id).Return(item, nil).Maybe()
	}
	f.catalog.On("GetMenuItem", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	for id, r := range f.restaurants {
		f.catalog.On("GetRestaurant", mock.Anything, id).Return(r, nil).Maybe()
	}
	f.catalog.On("GetRestaurant", mock.Anything, mock.Anything).Return(nil, nil).Maybe()

	f.gateway.On("KeyID").Return("rzp_test_key").Maybe()
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.ledgerPub.On("PublishTransaction", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.events = NewEventSink(f.publisher, f.ledgerPub, logger)
	f.carts = NewCartService(store, f.catalog, logger)
	f.refunds = NewRefundService(store, f.gateway, f.events, logger)
	f.orders = NewOrderService(store, f.catalog, f.refunds, f.events, OrderConfig{
		TaxRate:              decimal.Zero,
		OrderNumberAttempts:  5,
		EstimatedDeliveryETA: 0,
	}, logger)
	f.payments = NewPaymentService(store, f.gateway, f.events, domain.DefaultCurrency, logger)
	f.ledger = NewLedgerService(store, f.catalog)
	return f
}

func ptr[T any](v T) *T { return &v }

func placeInput(actor domain.Actor, method domain.PaymentMethod) PlaceOrderInput {
	return PlaceOrderInput{
		Actor:           actor,
		DeliveryAddress: domain.Address{Line1: "12 MG Road", City: "Bengaluru", PostalCode: "560001"},
		DeliveryPhone:   "+919800000000",
		PaymentMethod:   method,
	}
}

func (f *fixture) addToCart(t *testing.T, actor domain.Actor, menuItemID uint64, qty int) *CartView {
	t.Helper()
	view, err := f.carts.AddItem(context.Background(), AddItemInput{Actor: actor, MenuItemID: menuItemID, Quantity: qty})
	require.NoError(t, err)
	return view
}

// placeOrder places 2 x Paneer Tikka (300.00) for actor.
func (f *fixture) placeOrder(t *testing.T, actor domain.Actor, method domain.PaymentMethod) *domain.Order {
	t.Helper()
	f.addToCart(t, actor, 10, 2)
	order, err := f.orders.PlaceOrder(context.Background(), placeInput(actor, method))
	require.NoError(t, err)
	return order
}

func gatewayOrderID(order *domain.Order) string {
	return fmt.Sprintf("order_gw_%d", order.ID)
}

func gatewayPaymentID(order *domain.Order) string {
	return fmt.Sprintf("pay_gw_%d", order.ID)
}

func (f *fixture) expectGatewayOrder(order *domain.Order, gwID string) *mock.Call {
	return f.gateway.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req gateway.CreateOrderRequest) bool {
		return req.Receipt == "order_"+order.OrderNumber
	})).Return(&gateway.Order{ID: gwID, Currency: domain.DefaultCurrency, Status: "created"}, nil)
}

func (f *fixture) expectSignature(gwOrderID, gwPaymentID, signature string, result error) {
	f.gateway.On("VerifyPaymentSignature", gwOrderID, gwPaymentID, signature).Return(result)
}

func (f *fixture) openIntent(t *testing.T, order *domain.Order) *IntentResult {
	t.Helper()
	f.expectGatewayOrder(order, gatewayOrderID(order)).Once()
	intent, err := f.payments.CreateIntent(context.Background(), order.ID, customer)
	require.NoError(t, err)
	return intent
}

// capture places a 300.00 order and verifies its payment.
func (f *fixture) capture(t *testing.T) *domain.Order {
	t.Helper()
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)
	f.expectSignature(gatewayOrderID(order), gatewayPaymentID(order), "good-signature", nil)

	res, err := f.payments.Verify(context.Background(), VerifyInput{
		GatewayOrderID:   gatewayOrderID(order),
		GatewayPaymentID: gatewayPaymentID(order),
		Signature:        "good-signature",
		Actor:            customer,
	})
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) reloadOrder(t *testing.T, id uint64) *domain.Order {
	t.Helper()
	order, err := f.store.Orders().FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func (f *fixture) reloadPayment(t *testing.T, orderID uint64) *domain.Payment {
	t.Helper()
	pay, err := f.store.Payments().FindByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, pay)
	return pay
}

func (f *fixture) ledgerFor(t *testing.T, orderID uint64) []domain.Transaction {
	t.Helper()
	entries, err := f.store.Ledger().ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return entries
}

func entriesOfType(entries []domain.Transaction, typ domain.TransactionType) []domain.Transaction {
	var out []domain.Transaction
	for _, e := range entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
