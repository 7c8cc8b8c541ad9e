package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mealmate/internal/domain"
	"mealmate/internal/infra"
	"mealmate/internal/metrics"
	"mealmate/internal/repository"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderConfig struct {
	TaxRate              decimal.Decimal
	OrderNumberAttempts  int
	EstimatedDeliveryETA time.Duration
}

type OrderService struct {
	store          repository.Store
	catalog        infra.CatalogInterface
	access         access
	refunds        *RefundService
	events         *EventSink
	cfg            OrderConfig
	logger         *zap.Logger
	newOrderNumber func() string
	now            func() time.Time
}

func NewOrderService(store repository.Store, catalog infra.CatalogInterface, refunds *RefundService, events *EventSink, cfg OrderConfig, logger *zap.Logger) *OrderService {
	if cfg.OrderNumberAttempts < 1 {
		cfg.OrderNumberAttempts = 1
	}
	return &OrderService{
		store:          store,
		catalog:        catalog,
		access:         access{catalog: catalog},
		refunds:        refunds,
		events:         events,
		cfg:            cfg,
		logger:         logger,
		newOrderNumber: NewOrderNumber,
		now:            time.Now,
	}
}

func (s *OrderService) SetOrderNumberGenerator(fn func() string) {
	s.newOrderNumber = fn
}

type PlaceOrderInput struct {
	Actor                domain.Actor
	DeliveryAddress      domain.Address
	DeliveryPhone        string
	DeliveryInstructions string
	PaymentMethod        domain.PaymentMethod
}

func (in PlaceOrderInput) validate() error {
	if strings.TrimSpace(in.DeliveryAddress.Line1) == "" || strings.TrimSpace(in.DeliveryAddress.City) == "" {
		return domain.Validationf("delivery address requires line1 and city")
	}
	phone := strings.TrimSpace(in.DeliveryPhone)
	if phone == "" || len(phone) > 20 {
		return domain.Validationf("delivery phone is required and must be at most 20 characters")
	}
	if !in.PaymentMethod.Valid() {
		return domain.Validationf("unsupported payment method %q", in.PaymentMethod)
	}
	return nil
}

// PlaceOrder turns the customer's cart into a PENDING order. Order creation and
// clearing the cart commit together.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder")
	defer func() { endSpan(span, err) }()

	if err := requireCustomer(in.Actor); err != nil {
		return nil, err
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = domain.MethodRazorpay
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	peek, err := s.store.Carts().FindByCustomer(ctx, in.Actor.ID)
	if err != nil {
		return nil, err
	}
	if peek == nil || len(peek.Items) == 0 || peek.RestaurantID == nil {
		return nil, domain.Validationf("cart is empty")
	}
	restaurantID := *peek.RestaurantID

	restaurant, err := s.catalog.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if restaurant == nil {
		return nil, domain.NotFoundf("restaurant %d not found", restaurantID)
	}
	if !restaurant.IsActive {
		return nil, domain.Validationf("restaurant %q is not accepting orders", restaurant.Name)
	}

	now := s.now()
	box := &outbox{}
	var order *domain.Order
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		cart, err := tx.Carts().FindByCustomerForUpdate(ctx, in.Actor.ID)
		if err != nil {
			return err
		}
		if cart == nil || len(cart.Items) == 0 {
			return domain.Validationf("cart is empty")
		}
		if cart.RestaurantID == nil || *cart.RestaurantID != restaurantID {
			return domain.Conflictf("cart changed while placing the order, please retry")
		}

		total := decimal.Zero
		items := make([]domain.OrderItem, 0, len(cart.Items))
		for _, ci := range cart.Items {
			if ci.RestaurantID != restaurantID {
				return domain.Validationf("cart contains items from more than one restaurant")
			}
			total = total.Add(ci.Subtotal())
			items = append(items, domain.OrderItem{
				MenuItemID:          ci.MenuItemID,
				Name:                ci.Name,
				Quantity:            ci.Quantity,
				UnitPrice:           ci.UnitPrice,
				SpecialInstructions: ci.SpecialInstructions,
			})
		}
		if total.LessThan(restaurant.MinimumOrder) {
			return domain.Validationf("minimum order amount is %s", restaurant.MinimumOrder.StringFixed(2))
		}

		eta := now.Add(s.cfg.EstimatedDeliveryETA)
		order = &domain.Order{
			CustomerID:            in.Actor.ID,
			CustomerEmail:         in.Actor.Email,
			RestaurantID:          restaurantID,
			Status:                domain.StatusPending,
			PaymentStatus:         domain.PaymentPending,
			PaymentMethod:         in.PaymentMethod,
			TotalAmount:           total,
			DeliveryFee:           restaurant.DeliveryFee,
			TaxAmount:             domain.RoundMoney(total.Mul(s.cfg.TaxRate)),
			DiscountAmount:        decimal.Zero,
			DeliveryAddress:       in.DeliveryAddress,
			DeliveryPhone:         strings.TrimSpace(in.DeliveryPhone),
			DeliveryInstructions:  in.DeliveryInstructions,
			EstimatedDeliveryTime: &eta,
			Items:                 items,
		}
		if err := s.createWithUniqueNumber(ctx, tx, order); err != nil {
			return err
		}

		if err := tx.Orders().AppendHistory(ctx, &domain.OrderStatusHistory{
			OrderID:       order.ID,
			Status:        domain.StatusPending,
			ChangedBy:     in.Actor.ID,
			ChangedByRole: in.Actor.Role,
			Notes:         "Order placed",
		}); err != nil {
			return err
		}

		if err := tx.Carts().ClearItems(ctx, cart.ID); err != nil {
			return err
		}
		cart.Items = nil
		cart.RestaurantID = nil
		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}

		box.orderChanged(domain.EventOrderPlaced, order, "", now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordOrderPlaced(string(order.PaymentMethod))
	s.events.Flush(ctx, box)
	span.SetAttributes(attribute.String("order_number", order.OrderNumber))
	s.logger.Info("order placed",
		zap.Uint64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Uint64("customer_id", order.CustomerID),
		zap.String("final_amount", order.FinalAmount().StringFixed(2)),
	)
	return order, nil
}

// createWithUniqueNumber retries on a unique-constraint collision so uniqueness is
// guaranteed by the database before commit.
func (s *OrderService) createWithUniqueNumber(ctx context.Context, tx repository.Store, order *domain.Order) error {
	for attempt := 1; attempt <= s.cfg.OrderNumberAttempts; attempt++ {
		order.ID = 0
		for i := range order.Items {
			order.Items[i].ID = 0
			order.Items[i].OrderID = 0
		}
		order.OrderNumber = s.newOrderNumber()

		err := tx.Orders().Create(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return err
		}
		s.logger.Warn("order number collision, regenerating",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt),
		)
	}
	return domain.Conflictf("could not allocate a unique order number")
}

type TransitionInput struct {
	OrderID uint64
	To      domain.OrderStatus
	Actor   domain.Actor
	Notes   string
}

// Transition moves an order along the fulfilment graph. CANCELLED is delegated to
// Cancel; REFUNDED is only reachable through a refund.
func (s *OrderService) Transition(ctx context.Context, in TransitionInput) (_ *domain.Order, err error) {
	if !in.To.Valid() {
		return nil, domain.Validationf("unknown order status %q", in.To)
	}
	switch in.To {
	case domain.StatusCancelled:
		return s.Cancel(ctx, CancelInput{OrderID: in.OrderID, Actor: in.Actor, Reason: in.Notes})
	case domain.StatusRefunded:
		return nil, domain.Validationf("orders become REFUNDED only through a refund")
	}

	ctx, span := tracer.Start(ctx, "OrderService.Transition")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order_id", int64(in.OrderID)), attribute.String("to", string(in.To)))

	current, err := s.store.Orders().FindByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.NotFoundf("order %d not found", in.OrderID)
	}
	if err := s.access.canFulfil(ctx, in.Actor, current); err != nil {
		return nil, err
	}

	ownerID, rate := uint64(0), defaultCommissionRate
	if in.To == domain.StatusDelivered {
		restaurant, err := s.catalog.GetRestaurant(ctx, current.RestaurantID)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup: %w", err)
		}
		if restaurant != nil {
			ownerID, rate = restaurant.OwnerID, restaurant.CommissionRate
		}
	}

	now := s.now()
	box := &outbox{}
	var order *domain.Order
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		order, err = tx.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.NotFoundf("order %d not found", in.OrderID)
		}

		from := order.Status
		if err := order.Advance(in.To, now); err != nil {
			return err
		}
		if in.To == domain.StatusDelivered {
			if err := settleDelivery(ctx, tx, box, order, ownerID, rate); err != nil {
				return err
			}
		}
		return recordTransition(ctx, tx, box, order, from, in.Actor, in.Notes, now)
	})
	if err != nil {
		return nil, err
	}

	s.events.Flush(ctx, box)
	s.logger.Info("order status changed",
		zap.Uint64("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("actor_role", string(in.Actor.Role)),
	)
	return order, nil
}

// ConfirmCashOnDelivery accepts a COD order, which needs no payment capture.
func (s *OrderService) ConfirmCashOnDelivery(ctx context.Context, orderID uint64, actor domain.Actor) (*domain.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	if order.PaymentMethod != domain.MethodCashOnDelivery {
		return nil, domain.Validationf("order %s is not cash on delivery", order.OrderNumber)
	}
	return s.Transition(ctx, TransitionInput{OrderID: orderID, To: domain.StatusConfirmed, Actor: actor, Notes: "Cash on delivery accepted"})
}

type CancelInput struct {
	OrderID uint64
	Actor   domain.Actor
	Reason  string
}

// Cancel is allowed from PENDING or CONFIRMED. For a captured payment the status
// change and the full refund reservation commit together, and the gateway is asked
// for the refund afterwards. If the gateway refuses, the order stays CANCELLED and
// the failed refund can be retried by staff.
func (s *OrderService) Cancel(ctx context.Context, in CancelInput) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.Cancel")
	defer func() { endSpan(span, err) }()

	current, err := s.store.Orders().FindByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.NotFoundf("order %d not found", in.OrderID)
	}
	if err := s.access.canView(ctx, in.Actor, current); err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(domain.StatusCancelled) {
		return nil, &domain.InvalidTransitionError{Entity: "order", From: string(current.Status), To: string(domain.StatusCancelled)}
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "Cancelled by " + string(in.Actor.Role)
	}

	now := s.now()
	box := &outbox{}
	var order *domain.Order
	var refund *domain.Refund
	var gatewayPaymentID string
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		order, err = tx.Orders().FindByIDForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.NotFoundf("order %d not found", in.OrderID)
		}

		from := order.Status
		if err := order.Advance(domain.StatusCancelled, now); err != nil {
			return err
		}

		pay, err := tx.Payments().FindByOrderIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if pay != nil {
			switch {
			case order.PaymentStatus == domain.PaymentPaid:
				if s.refunds == nil {
					return errors.New("refunds are not configured")
				}
				refund, err = reserveRefund(ctx, tx, pay, RefundInput{
					OrderID: order.ID,
					Full:    true,
					Reason:  "Order cancelled: " + reason,
					Actor:   domain.SystemActor(),
				})
				if err != nil {
					return err
				}
				gatewayPaymentID = pay.GatewayPaymentID
			case pay.Status.Open():
				if err := pay.Transition(domain.PaymentStateCancelled); err != nil {
					return err
				}
				if err := tx.Payments().Update(ctx, pay); err != nil {
					return err
				}
			case pay.Status == domain.PaymentStateFailed && order.PaymentStatus == domain.PaymentPending:
				order.PaymentStatus = domain.PaymentFailed
			}
		}
		return recordTransition(ctx, tx, box, order, from, in.Actor, reason, now)
	})
	if err != nil {
		return nil, err
	}

	s.events.Flush(ctx, box)
	fields := []zap.Field{zap.Uint64("order_id", order.ID), zap.String("reason", reason)}
	if refund != nil {
		fields = append(fields, zap.Uint64("refund_id", refund.ID))
	}
	s.logger.Info("order cancelled", fields...)

	if refund == nil {
		return order, nil
	}
	settled, err := s.refunds.submit(ctx, refund, gatewayPaymentID, domain.SystemActor())
	if err != nil {
		s.logger.Error("cancellation refund not accepted by the gateway, retry the refund",
			zap.Uint64("order_id", order.ID),
			zap.Uint64("refund_id", refund.ID),
			zap.Error(err),
		)
		return order, nil
	}
	if settled.Status != domain.RefundProcessed {
		return order, nil
	}
	return s.store.Orders().FindByID(context.WithoutCancel(ctx), order.ID)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uint64, actor domain.Actor) (*domain.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	if err := s.access.canView(ctx, actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

type ListOrdersInput struct {
	Actor        domain.Actor
	RestaurantID uint64
	Limit        int
	Offset       int
}

// ListOrders returns the actor's own orders, or a restaurant's orders when
// RestaurantID is set and the actor owns it or is staff.
func (s *OrderService) ListOrders(ctx context.Context, in ListOrdersInput) ([]domain.Order, error) {
	if in.RestaurantID == 0 {
		if in.Actor.Role != domain.RoleCustomer {
			return nil, domain.Validationf("restaurant_id is required")
		}
		return s.store.Orders().ListByCustomer(ctx, in.Actor.ID, in.Limit, in.Offset)
	}

	if !in.Actor.Staff() {
		owns, err := s.access.ownsRestaurant(ctx, in.Actor, in.RestaurantID)
		if err != nil {
			return nil, err
		}
		if !owns {
			return nil, domain.NotFoundf("restaurant %d not found", in.RestaurantID)
		}
	}
	return s.store.Orders().ListByRestaurant(ctx, in.RestaurantID, in.Limit, in.Offset)
}

func (s *OrderService) History(ctx context.Context, orderID uint64, actor domain.Actor) ([]domain.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}
	return s.store.Orders().History(ctx, orderID)
}
