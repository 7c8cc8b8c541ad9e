package services

import (
	"context"
	"strings"
	"time"

	"mealmate/internal/domain"
	"mealmate/internal/infra/gateway"
	"mealmate/internal/metrics"
	"mealmate/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type RefundService struct {
	store   repository.Store
	gateway gateway.ClientInterface
	events  *EventSink
	logger  *zap.Logger
	now     func() time.Time
}

func NewRefundService(store repository.Store, gw gateway.ClientInterface, events *EventSink, logger *zap.Logger) *RefundService {
	return &RefundService{
		store:   store,
		gateway: gw,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

type RefundInput struct {
	OrderID uint64
	Amount  decimal.Decimal
	// Full refunds whatever is still refundable; Amount is ignored.
	Full   bool
	Reason string
	Actor  domain.Actor
}

type RefundConfirmation struct {
	GatewayRefundID string
	Response        map[string]any
}

// InitiateRefund reserves the amount against the captured payment and asks the
// gateway to refund it. The cap check and the refund insert share one
// transaction.
func (s *RefundService) InitiateRefund(ctx context.Context, in RefundInput) (_ *domain.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundService.InitiateRefund")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int64("order_id", int64(in.OrderID)), attribute.Bool("full", in.Full))

	if err := requireStaff(in.Actor); err != nil {
		return nil, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, domain.Validationf("refund reason is required")
	}
	if !in.Full && (!in.Amount.IsPositive() || !domain.IsMoneyPrecision(in.Amount)) {
		return nil, domain.Validationf("refund amount must be positive with at most two decimal places")
	}

	var refund *domain.Refund
	var gatewayPaymentID string
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		_, pay, err := lockOrderPayment(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		refund, err = reserveRefund(ctx, tx, pay, in)
		if err != nil {
			return err
		}
		if refund == nil {
			return domain.Conflictf("nothing left to refund on this payment")
		}
		gatewayPaymentID = pay.GatewayPaymentID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, refund, gatewayPaymentID, in.Actor)
}

// reserveRefund checks the cap and inserts an INITIATED refund against pay, which
// the caller must hold locked. Non-FAILED refunds count against the cap. A full
// refund with nothing left returns (nil, nil).
func reserveRefund(ctx context.Context, tx repository.Store, pay *domain.Payment, in RefundInput) (*domain.Refund, error) {
	switch pay.Status {
	case domain.PaymentStateCaptured:
	case domain.PaymentStateRefunded:
		return nil, domain.Conflictf("payment is already fully refunded")
	default:
		return nil, &domain.InvalidTransitionError{Entity: "payment", From: string(pay.Status), To: string(domain.PaymentStateRefunded)}
	}

	existing, err := tx.Refunds().ListByPayment(ctx, pay.ID)
	if err != nil {
		return nil, err
	}
	reserved := decimal.Zero
	for _, r := range existing {
		if r.Status.Reserves() {
			reserved = reserved.Add(r.Amount)
		}
	}
	remaining := pay.Amount.Sub(reserved)

	amount := in.Amount
	if in.Full {
		if !remaining.IsPositive() {
			return nil, nil
		}
		amount = remaining
	}
	if amount.GreaterThan(remaining) {
		return nil, domain.Conflictf("refund amount %s exceeds refundable amount %s",
			amount.StringFixed(2), remaining.StringFixed(2))
	}

	refundType := domain.RefundPartial
	if amount.Equal(pay.Amount) {
		refundType = domain.RefundFull
	}
	refund := &domain.Refund{
		RefundID:    uuid.New(),
		PaymentID:   pay.ID,
		OrderID:     pay.OrderID,
		Amount:      amount,
		Type:        refundType,
		Status:      domain.RefundInitiated,
		Reason:      in.Reason,
		InitiatedBy: in.Actor.ID,
	}
	if err := tx.Refunds().Create(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// submit sends a reserved refund to the gateway and records the outcome. It runs
// outside any transaction.
func (s *RefundService) submit(ctx context.Context, refund *domain.Refund, gatewayPaymentID string, actor domain.Actor) (*domain.Refund, error) {
	metrics.RecordRefund(string(domain.RefundInitiated))

	minor, err := domain.ToMinorUnits(refund.Amount)
	if err != nil {
		return nil, err
	}
	gwRefund, gwErr := s.gateway.CreateRefund(ctx, gatewayPaymentID, minor)

	// The gateway may have acted on the request; record the outcome even if the
	// caller has gone away.
	ctx = context.WithoutCancel(ctx)
	if gwErr != nil {
		s.recordGatewayFailure(ctx, refund.ID, gwErr)
		return nil, gwErr
	}

	now := s.now()
	box := &outbox{}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		order, pay, r, err := lockRefund(ctx, tx, refund.ID)
		if err != nil {
			return err
		}
		refund = r
		r.GatewayRefundID = gwRefund.ID
		r.GatewayResponse = gwRefund.Raw
		r.FailureReason = ""
		if r.Status == domain.RefundInitiated {
			if err := r.Transition(domain.RefundPending); err != nil {
				return err
			}
		}
		if !gwRefund.Processed() {
			return tx.Refunds().Update(ctx, r)
		}
		return confirmRefund(ctx, tx, box, order, pay, r, actor, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRefund(string(refund.Status))
	s.events.Flush(ctx, box)
	s.logger.Info("refund initiated",
		zap.Uint64("order_id", refund.OrderID),
		zap.Uint64("refund_id", refund.ID),
		zap.String("gateway_refund_id", refund.GatewayRefundID),
		zap.String("amount", refund.Amount.StringFixed(2)),
		zap.String("status", string(refund.Status)),
	)
	return refund, nil
}

// recordGatewayFailure marks the refund FAILED, releasing its reservation. After a
// timeout the gateway may still process the refund, so the reservation is kept and
// the refund stays INITIATED until staff confirm or fail it.
func (s *RefundService) recordGatewayFailure(ctx context.Context, refundID uint64, gwErr error) {
	timedOut := gateway.IsTimeout(gwErr)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		_, _, r, err := lockRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}
		if timedOut {
			r.FailureReason = "Gateway refund request timed out, reconcile with the gateway"
			return tx.Refunds().Update(ctx, r)
		}
		return failRefund(ctx, tx, r, "Gateway refund request failed")
	})
	if err != nil {
		s.logger.Error("failed to record gateway refund failure", zap.Uint64("refund_id", refundID), zap.Error(err))
		return
	}
	if timedOut {
		s.logger.Error("gateway refund request timed out, refund left for reconciliation",
			zap.Uint64("refund_id", refundID), zap.Error(gwErr))
		return
	}
	metrics.RecordRefund(string(domain.RefundFailed))
	s.logger.Warn("gateway refund request failed", zap.Uint64("refund_id", refundID), zap.Error(gwErr))
}

// ConfirmRefund records the gateway's settlement of a refund.
func (s *RefundService) ConfirmRefund(ctx context.Context, refundID uint64, conf RefundConfirmation, actor domain.Actor) (_ *domain.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundService.ConfirmRefund")
	defer func() { endSpan(span, err) }()

	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	now := s.now()
	box := &outbox{}
	var refund *domain.Refund
	alreadyProcessed := false
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		order, pay, r, err := lockRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}
		refund = r
		if id := strings.TrimSpace(conf.GatewayRefundID); id != "" {
			if r.GatewayRefundID != "" && r.GatewayRefundID != id {
				return domain.Conflictf("refund %d is bound to gateway refund %s", r.ID, r.GatewayRefundID)
			}
			r.GatewayRefundID = id
		}
		if conf.Response != nil {
			r.GatewayResponse = conf.Response
		}
		alreadyProcessed = r.Status == domain.RefundProcessed
		if !alreadyProcessed {
			r.FailureReason = ""
		}
		return confirmRefund(ctx, tx, box, order, pay, r, actor, now)
	})
	if err != nil {
		return nil, err
	}
	if alreadyProcessed {
		return refund, nil
	}

	metrics.RecordRefund(string(domain.RefundProcessed))
	s.events.Flush(ctx, box)
	s.logger.Info("refund processed",
		zap.Uint64("refund_id", refund.ID),
		zap.Uint64("order_id", refund.OrderID),
		zap.String("amount", refund.Amount.StringFixed(2)),
	)
	return refund, nil
}

// FailRefund releases the reserved amount. Ledger and order are untouched.
func (s *RefundService) FailRefund(ctx context.Context, refundID uint64, reason string, actor domain.Actor) (_ *domain.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundService.FailRefund")
	defer func() { endSpan(span, err) }()

	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Marked failed by " + string(actor.Role)
	}

	var refund *domain.Refund
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		_, _, r, err := lockRefund(ctx, tx, refundID)
		if err != nil {
			return err
		}
		refund = r
		return failRefund(ctx, tx, r, reason)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRefund(string(domain.RefundFailed))
	s.logger.Info("refund failed", zap.Uint64("refund_id", refund.ID), zap.String("reason", reason))
	return refund, nil
}
