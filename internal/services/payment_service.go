package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mealmate/internal/domain"
	"mealmate/internal/infra/gateway"
	"mealmate/internal/metrics"
	"mealmate/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService settles gateway payments against orders: it opens checkouts,
// verifies client callbacks and applies gateway webhooks.
type PaymentService struct {
	store    repository.Store
	gateway  gateway.ClientInterface
	events   *EventSink
	currency string
	logger   *zap.Logger
	now      func() time.Time
}

func NewPaymentService(store repository.Store, gw gateway.ClientInterface, events *EventSink, currency string, logger *zap.Logger) *PaymentService {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &PaymentService{
		store:    store,
		gateway:  gw,
		events:   events,
		currency: currency,
		logger:   logger,
		now:      time.Now,
	}
}

type IntentResult struct {
	Payment        *domain.Payment
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	KeyID          string
	OrderNumber    string
}

func (s *PaymentService) intentResult(order *domain.Order, pay *domain.Payment) (*IntentResult, error) {
	minor, err := domain.ToMinorUnits(pay.Amount)
	if err != nil {
		return nil, err
	}
	return &IntentResult{
		Payment:        pay,
		GatewayOrderID: pay.GatewayOrderID,
		AmountMinor:    minor,
		Currency:       pay.Currency,
		KeyID:          s.gateway.KeyID(),
		OrderNumber:    order.OrderNumber,
	}, nil
}

func checkPayable(order *domain.Order) error {
	if order.PaymentMethod == domain.MethodCashOnDelivery {
		return domain.Validationf("cash on delivery orders are not paid online")
	}
	if order.Status != domain.StatusPending {
		return &domain.InvalidTransitionError{Entity: "order", From: string(order.Status), To: string(domain.StatusConfirmed)}
	}
	if order.PaymentStatus != domain.PaymentPending {
		return domain.Conflictf("order %s payment is already %s", order.OrderNumber, order.PaymentStatus)
	}
	return nil
}

// reusable reports whether an existing payment can be handed back to the caller
// as is. A FAILED payment is neither reusable nor an error: it gets re-initiated.
func reusable(pay *domain.Payment) (bool, error) {
	switch pay.Status {
	case domain.PaymentStateInitiated, domain.PaymentStatePending, domain.PaymentStateAuthorized:
		return true, nil
	case domain.PaymentStateCaptured, domain.PaymentStateRefunded:
		return false, domain.Conflictf("order is already paid")
	case domain.PaymentStateFailed:
		return false, nil
	default:
		return false, &domain.InvalidTransitionError{Entity: "payment", From: string(pay.Status), To: string(domain.PaymentStateInitiated)}
	}
}

// CreateIntent opens a gateway order for a PENDING order, or returns the payment
// already open for it.
func (s *PaymentService) CreateIntent(ctx context.Context, orderID uint64, actor domain.Actor) (_ *IntentResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.CreateIntent")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order_id", int64(orderID)))

	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || (!actor.Staff() && order.CustomerID != actor.ID) {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	if err := checkPayable(order); err != nil {
		return nil, err
	}

	existing, err := s.store.Payments().FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		ok, err := reusable(existing)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.intentResult(order, existing)
		}
	}

	amount := order.FinalAmount()
	minor, err := domain.ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}
	if minor <= 0 {
		return nil, domain.Validationf("order amount must be positive")
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		AmountMinor: minor,
		Currency:    s.currency,
		Receipt:     "order_" + order.OrderNumber,
		Notes: map[string]string{
			"order_id":       strconv.FormatUint(order.ID, 10),
			"order_number":   order.OrderNumber,
			"customer_email": order.CustomerEmail,
		},
	})
	if err != nil {
		s.logger.Warn("gateway order creation failed", zap.Uint64("order_id", order.ID), zap.Error(err))
		return nil, err
	}

	var pay *domain.Payment
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Orders().FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.NotFoundf("order %d not found", orderID)
		}
		if err := checkPayable(locked); err != nil {
			return err
		}
		order = locked

		current, err := tx.Payments().FindByOrderIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current == nil {
			pay = &domain.Payment{
				PaymentID:       uuid.New(),
				OrderID:         order.ID,
				CustomerID:      order.CustomerID,
				GatewayOrderID:  gwOrder.ID,
				Amount:          amount,
				Currency:        s.currency,
				Status:          domain.PaymentStateInitiated,
				Method:          order.PaymentMethod,
				GatewayResponse: gwOrder.Raw,
			}
			return tx.Payments().Create(ctx, pay)
		}

		ok, err := reusable(current)
		if err != nil {
			return err
		}
		if ok {
			// Another request opened a payment first; its gateway order wins.
			pay = current
			return nil
		}

		if err := current.Transition(domain.PaymentStateInitiated); err != nil {
			return err
		}
		current.GatewayOrderID = gwOrder.ID
		current.GatewayPaymentID = ""
		current.GatewaySignature = ""
		current.GatewayResponse = gwOrder.Raw
		current.Amount = amount
		current.Currency = s.currency
		current.FailureReason = ""
		current.FailedAt = nil
		pay = current
		return tx.Payments().Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.Uint64("order_id", order.ID),
		zap.String("gateway_order_id", pay.GatewayOrderID),
		zap.String("amount", pay.Amount.StringFixed(2)),
	)
	return s.intentResult(order, pay)
}

type VerifyInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Actor            domain.Actor
}

type VerifyResult struct {
	Payment         *domain.Payment
	Order           *domain.Order
	AlreadyCaptured bool
}

// Verify checks the checkout callback signature and captures the payment. Payment,
// order and ledger change in one transaction; a repeated callback for a captured
// payment succeeds without side effects.
func (s *PaymentService) Verify(ctx context.Context, in VerifyInput) (_ *VerifyResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.Verify")
	defer func() { endSpan(span, err) }()

	in.GatewayOrderID = strings.TrimSpace(in.GatewayOrderID)
	in.GatewayPaymentID = strings.TrimSpace(in.GatewayPaymentID)
	if in.GatewayOrderID == "" || in.GatewayPaymentID == "" || strings.TrimSpace(in.Signature) == "" {
		return nil, domain.Validationf("gateway order id, payment id and signature are required")
	}
	span.SetAttributes(attribute.String("gateway_order_id", in.GatewayOrderID))

	found, err := s.store.Payments().FindByGatewayOrderID(ctx, in.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if found == nil || (!in.Actor.Staff() && found.CustomerID != in.Actor.ID) {
		return nil, domain.NotFoundf("payment not found")
	}

	sigErr := s.gateway.VerifyPaymentSignature(in.GatewayOrderID, in.GatewayPaymentID, in.Signature)

	now := s.now()
	box := &outbox{}
	result := &VerifyResult{}
	var rejected, unreconciled error
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		order, err := tx.Orders().FindByIDForUpdate(ctx, found.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.NotFoundf("payment not found")
		}
		pay, err := tx.Payments().FindByOrderIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if pay == nil {
			return domain.NotFoundf("payment not found")
		}
		result.Order, result.Payment = order, pay

		if pay.GatewayOrderID != in.GatewayOrderID {
			return domain.Conflictf("payment was re-initiated, retry checkout")
		}

		switch {
		case pay.Status == domain.PaymentStateCaptured || pay.Status == domain.PaymentStateRefunded:
			if sigErr != nil {
				rejected = sigErr
				return nil
			}
			if pay.GatewayPaymentID != in.GatewayPaymentID {
				return domain.Conflictf("order is already paid by another payment")
			}
			result.AlreadyCaptured = true
			return nil
		case sigErr != nil:
			rejected = sigErr
			if !pay.Status.Open() {
				return nil
			}
			pay.GatewayPaymentID = in.GatewayPaymentID
			return failPayment(ctx, tx, pay, "Signature verification failed", now)
		case !pay.Status.Open():
			unreconciled = &domain.InvalidTransitionError{Entity: "payment", From: string(pay.Status), To: string(domain.PaymentStateCaptured)}
			pay.FailureReason = fmt.Sprintf("Gateway payment %s captured after the payment was %s, refund it at the gateway",
				in.GatewayPaymentID, pay.Status)
			return tx.Payments().Update(ctx, pay)
		}
		return capturePayment(ctx, tx, box, order, pay, in.GatewayPaymentID, in.Signature, in.Actor, now)
	})

	switch {
	case err != nil:
		metrics.RecordPaymentVerification("error")
		return nil, err
	case unreconciled != nil:
		metrics.RecordPaymentVerification("unreconciled")
		s.logger.Error("valid payment callback for a closed payment, manual reconciliation required",
			zap.Uint64("order_id", found.OrderID),
			zap.String("payment_status", string(result.Payment.Status)),
			zap.String("gateway_payment_id", in.GatewayPaymentID),
		)
		return nil, unreconciled
	case rejected != nil:
		metrics.RecordPaymentVerification("signature_failed")
		s.logger.Warn("payment signature rejected",
			zap.Uint64("order_id", found.OrderID),
			zap.String("gateway_payment_id", in.GatewayPaymentID),
		)
		return nil, rejected
	case result.AlreadyCaptured:
		metrics.RecordPaymentVerification("duplicate")
		return result, nil
	}

	metrics.RecordPaymentVerification("captured")
	s.events.Flush(ctx, box)
	s.logger.Info("payment captured",
		zap.Uint64("order_id", result.Order.ID),
		zap.String("gateway_payment_id", in.GatewayPaymentID),
		zap.String("amount", result.Payment.Amount.StringFixed(2)),
	)
	return result, nil
}

type WebhookInput struct {
	WebhookID string
	Signature string
	Body      []byte
}

type WebhookResult struct {
	Webhook   *domain.PaymentWebhook
	Duplicate bool
	Ignored   bool
}

// HandleWebhook verifies, stores and applies a gateway notification once per
// webhook id. Events that cannot be applied stay unprocessed with LastError set.
func (s *PaymentService) HandleWebhook(ctx context.Context, in WebhookInput) (_ *WebhookResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.HandleWebhook")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.WebhookID) == "" {
		return nil, domain.Validationf("webhook id is required")
	}
	if err := s.gateway.VerifyWebhookSignature(in.Body, in.Signature); err != nil {
		metrics.RecordWebhook("unverified", "rejected")
		s.logger.Warn("webhook signature rejected", zap.String("webhook_id", in.WebhookID))
		return nil, err
	}
	evt, err := gateway.ParseWebhookEvent(in.Body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event", evt.Event), attribute.String("webhook_id", in.WebhookID))

	hook := &domain.PaymentWebhook{
		WebhookID:        in.WebhookID,
		EventType:        evt.Event,
		GatewayOrderID:   evt.GatewayOrderID(),
		GatewayPaymentID: evt.GatewayPaymentID(),
		Payload:          string(in.Body),
		Signature:        in.Signature,
	}
	if err := s.store.Webhooks().Create(ctx, hook); err != nil && !errors.Is(err, repository.ErrDuplicateKey) {
		return nil, err
	}

	now := s.now()
	box := &outbox{}
	result := &WebhookResult{}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Webhooks().FindByWebhookIDForUpdate(ctx, in.WebhookID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.NotFoundf("webhook %s not found", in.WebhookID)
		}
		result.Webhook = locked
		if locked.Processed {
			result.Duplicate = true
			return nil
		}

		applied := &outbox{}
		applyErr := tx.WithTx(ctx, func(inner repository.Store) error {
			return s.applyWebhook(ctx, inner, applied, evt, now)
		})
		switch {
		case applyErr == nil:
			locked.Processed = true
			locked.ProcessedAt = &now
			locked.LastError = ""
			box = applied
		case domain.IsBusiness(applyErr):
			locked.LastError = applyErr.Error()
			result.Ignored = true
		default:
			return applyErr
		}
		return tx.Webhooks().Update(ctx, locked)
	})
	if err != nil {
		metrics.RecordWebhook(evt.Event, "error")
		return nil, err
	}

	switch {
	case result.Duplicate:
		metrics.RecordWebhook(evt.Event, "duplicate")
		s.logger.Info("duplicate webhook skipped", zap.String("webhook_id", in.WebhookID))
	case result.Ignored:
		metrics.RecordWebhook(evt.Event, "ignored")
		s.logger.Warn("webhook left for manual review",
			zap.String("webhook_id", in.WebhookID),
			zap.String("event", evt.Event),
			zap.String("error", result.Webhook.LastError),
		)
	default:
		metrics.RecordWebhook(evt.Event, "processed")
		s.events.Flush(ctx, box)
		s.logger.Info("webhook processed", zap.String("webhook_id", in.WebhookID), zap.String("event", evt.Event))
	}
	return result, nil
}

func (s *PaymentService) applyWebhook(ctx context.Context, tx repository.Store, box *outbox, evt *gateway.WebhookEvent, now time.Time) error {
	actor := domain.SystemActor()

	switch evt.Event {
	case gateway.EventPaymentAuthorized, gateway.EventPaymentCaptured, gateway.EventOrderPaid, gateway.EventPaymentFailed:
		entity := evt.Payment()
		if entity == nil {
			return domain.Validationf("%s webhook has no payment entity", evt.Event)
		}
		order, pay, err := lockByGatewayOrder(ctx, tx, entity.OrderID)
		if err != nil {
			return err
		}

		switch evt.Event {
		case gateway.EventPaymentAuthorized:
			if pay.Status != domain.PaymentStateInitiated && pay.Status != domain.PaymentStatePending {
				return nil
			}
			if err := pay.Transition(domain.PaymentStateAuthorized); err != nil {
				return err
			}
			pay.GatewayPaymentID = entity.ID
			pay.AuthorizedAt = &now
			return tx.Payments().Update(ctx, pay)

		case gateway.EventPaymentFailed:
			if !pay.Status.Open() {
				return nil
			}
			reason := entity.ErrorDescription
			if reason == "" {
				reason = "Payment failed at gateway"
			}
			pay.GatewayPaymentID = entity.ID
			return failPayment(ctx, tx, pay, reason, now)
		}

		if pay.Status == domain.PaymentStateCaptured || pay.Status == domain.PaymentStateRefunded {
			return nil
		}
		if got := domain.FromMinorUnits(entity.Amount); !got.Equal(pay.Amount) {
			return domain.Validationf("captured amount %s does not match payment amount %s",
				got.StringFixed(2), pay.Amount.StringFixed(2))
		}
		return capturePayment(ctx, tx, box, order, pay, entity.ID, "", actor, now)

	case gateway.EventRefundCreated, gateway.EventRefundProcessed, gateway.EventRefundFailed:
		entity := evt.Refund()
		if entity == nil {
			return domain.Validationf("%s webhook has no refund entity", evt.Event)
		}
		order, pay, refund, err := lockByGatewayRefund(ctx, tx, entity.ID)
		if err != nil {
			return err
		}

		switch evt.Event {
		case gateway.EventRefundCreated:
			if refund.Status != domain.RefundInitiated {
				return nil
			}
			if err := refund.Transition(domain.RefundPending); err != nil {
				return err
			}
			return tx.Refunds().Update(ctx, refund)
		case gateway.EventRefundFailed:
			if refund.Status == domain.RefundProcessed {
				return &domain.InvalidTransitionError{Entity: "refund", From: string(refund.Status), To: string(domain.RefundFailed)}
			}
			if err := failRefund(ctx, tx, refund, "Refund failed at gateway"); err != nil {
				return err
			}
			metrics.RecordRefund(string(domain.RefundFailed))
			return nil
		}

		if got := domain.FromMinorUnits(entity.Amount); !got.Equal(refund.Amount) {
			return domain.Validationf("refunded amount %s does not match refund amount %s",
				got.StringFixed(2), refund.Amount.StringFixed(2))
		}
		wasProcessed := refund.Status == domain.RefundProcessed
		if err := confirmRefund(ctx, tx, box, order, pay, refund, actor, now); err != nil {
			return err
		}
		if !wasProcessed {
			metrics.RecordRefund(string(domain.RefundProcessed))
		}
		return nil
	}

	return domain.Validationf("unsupported webhook event %q", evt.Event)
}

// lockByGatewayOrder locks the order and then the payment behind a gateway order id.
func lockByGatewayOrder(ctx context.Context, tx repository.Store, gatewayOrderID string) (*domain.Order, *domain.Payment, error) {
	if gatewayOrderID == "" {
		return nil, nil, domain.Validationf("webhook payment has no order id")
	}
	found, err := tx.Payments().FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, nil, err
	}
	if found == nil {
		return nil, nil, domain.NotFoundf("no payment for gateway order %s", gatewayOrderID)
	}
	order, pay, err := lockOrderPayment(ctx, tx, found.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if pay.GatewayOrderID != gatewayOrderID {
		return nil, nil, domain.Conflictf("payment for gateway order %s was re-initiated", gatewayOrderID)
	}
	return order, pay, nil
}

func lockByGatewayRefund(ctx context.Context, tx repository.Store, gatewayRefundID string) (*domain.Order, *domain.Payment, *domain.Refund, error) {
	found, err := tx.Refunds().FindByGatewayRefundID(ctx, gatewayRefundID)
	if err != nil {
		return nil, nil, nil, err
	}
	if found == nil {
		return nil, nil, nil, domain.NotFoundf("no refund for gateway refund %s", gatewayRefundID)
	}
	return lockRefund(ctx, tx, found.ID)
}

func lockOrderPayment(ctx context.Context, tx repository.Store, orderID uint64) (*domain.Order, *domain.Payment, error) {
	order, err := tx.Orders().FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, domain.NotFoundf("order %d not found", orderID)
	}
	pay, err := tx.Payments().FindByOrderIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if pay == nil {
		return nil, nil, domain.NotFoundf("order %d has no payment", orderID)
	}
	return order, pay, nil
}

// lockRefund locks order, payment and refund in that order.
func lockRefund(ctx context.Context, tx repository.Store, refundID uint64) (*domain.Order, *domain.Payment, *domain.Refund, error) {
	peek, err := tx.Refunds().FindByID(ctx, refundID)
	if err != nil {
		return nil, nil, nil, err
	}
	if peek == nil {
		return nil, nil, nil, domain.NotFoundf("refund %d not found", refundID)
	}
	order, pay, err := lockOrderPayment(ctx, tx, peek.OrderID)
	if err != nil {
		return nil, nil, nil, err
	}
	refund, err := tx.Refunds().FindByIDForUpdate(ctx, refundID)
	if err != nil {
		return nil, nil, nil, err
	}
	if refund == nil || refund.PaymentID != pay.ID {
		return nil, nil, nil, domain.NotFoundf("refund %d not found", refundID)
	}
	return order, pay, refund, nil
}
