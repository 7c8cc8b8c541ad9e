package services

import (
	"context"
	"fmt"
	"time"

	"mealmate/internal/domain"
	"mealmate/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Helpers in this file run inside a caller's transaction and expect the order,
// payment and refund rows they touch to be locked already.

var defaultCommissionRate = decimal.NewFromInt(15)

// recordTransition persists an order whose status moved from `from`, appends the
// history row and queues the event. A call with an unchanged status only saves.
func recordTransition(ctx context.Context, tx repository.Store, box *outbox, order *domain.Order, from domain.OrderStatus, actor domain.Actor, notes string, now time.Time) error {
	if err := tx.Orders().Update(ctx, order); err != nil {
		return err
	}
	if from == order.Status {
		return nil
	}

	entry := &domain.OrderStatusHistory{
		OrderID:       order.ID,
		FromStatus:    from,
		Status:        order.Status,
		ChangedBy:     actor.ID,
		ChangedByRole: actor.Role,
		Notes:         notes,
	}
	if err := tx.Orders().AppendHistory(ctx, entry); err != nil {
		return err
	}

	pattern := domain.EventOrderStatusChanged
	if order.Status == domain.StatusCancelled {
		pattern = domain.EventOrderCancelled
	}
	box.orderChanged(pattern, order, from, now)
	return nil
}

func appendLedger(ctx context.Context, tx repository.Store, box *outbox, entry *domain.Transaction) error {
	entry.TransactionID = uuid.New()
	entry.Amount = domain.RoundMoney(entry.Amount)
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return err
	}
	box.entry(entry)
	return nil
}

// capturePayment moves a payment to CAPTURED and its order to PAID/CONFIRMED, and
// writes the PAYMENT ledger entry. All three land in the caller's transaction.
func capturePayment(ctx context.Context, tx repository.Store, box *outbox, order *domain.Order, pay *domain.Payment, gatewayPaymentID, signature string, actor domain.Actor, now time.Time) error {
	if err := pay.Transition(domain.PaymentStateCaptured); err != nil {
		return err
	}
	pay.GatewayPaymentID = gatewayPaymentID
	if signature != "" {
		pay.GatewaySignature = signature
	}
	pay.CapturedAt = &now
	pay.FailureReason = ""

	from := order.Status
	order.PaymentStatus = domain.PaymentPaid
	if err := order.Advance(domain.StatusConfirmed, now); err != nil {
		return err
	}

	if err := tx.Payments().Update(ctx, pay); err != nil {
		return err
	}
	if err := recordTransition(ctx, tx, box, order, from, actor, "Payment captured", now); err != nil {
		return err
	}
	return appendLedger(ctx, tx, box, &domain.Transaction{
		UserID:       order.CustomerID,
		RestaurantID: order.RestaurantID,
		Type:         domain.TransactionPayment,
		Amount:       pay.Amount,
		Description:  fmt.Sprintf("Payment for order #%s", order.OrderNumber),
		OrderID:      &order.ID,
		PaymentID:    &pay.ID,
		Metadata:     map[string]any{"gateway_payment_id": gatewayPaymentID, "method": string(pay.Method)},
	})
}

// failPayment records a failed attempt. Terminal payments are left untouched.
func failPayment(ctx context.Context, tx repository.Store, pay *domain.Payment, reason string, now time.Time) error {
	if err := pay.Transition(domain.PaymentStateFailed); err != nil {
		return err
	}
	pay.FailureReason = reason
	pay.FailedAt = &now
	return tx.Payments().Update(ctx, pay)
}

// confirmRefund marks a refund PROCESSED and books it. When processed refunds reach
// the captured amount the payment becomes REFUNDED, and the order follows unless
// it is already terminal.
func confirmRefund(ctx context.Context, tx repository.Store, box *outbox, order *domain.Order, pay *domain.Payment, refund *domain.Refund, actor domain.Actor, now time.Time) error {
	if refund.Status == domain.RefundProcessed {
		return nil
	}
	if err := refund.Transition(domain.RefundProcessed); err != nil {
		return err
	}

	siblings, err := tx.Refunds().ListByPayment(ctx, pay.ID)
	if err != nil {
		return err
	}
	processed := refund.Amount
	for _, r := range siblings {
		if r.ID != refund.ID && r.Status == domain.RefundProcessed {
			processed = processed.Add(r.Amount)
		}
	}
	if processed.GreaterThan(pay.Amount) {
		return domain.Conflictf("processed refunds %s would exceed captured amount %s",
			processed.StringFixed(2), pay.Amount.StringFixed(2))
	}

	refund.ProcessedAt = &now
	if err := tx.Refunds().Update(ctx, refund); err != nil {
		return err
	}
	if err := appendLedger(ctx, tx, box, &domain.Transaction{
		UserID:       order.CustomerID,
		RestaurantID: order.RestaurantID,
		Type:         domain.TransactionRefund,
		Amount:       refund.Amount,
		Description:  fmt.Sprintf("Refund for order #%s", order.OrderNumber),
		OrderID:      &order.ID,
		PaymentID:    &pay.ID,
		RefundID:     &refund.ID,
		Metadata:     map[string]any{"gateway_refund_id": refund.GatewayRefundID, "type": string(refund.Type)},
	}); err != nil {
		return err
	}

	if !processed.Equal(pay.Amount) {
		return nil
	}

	if err := pay.Transition(domain.PaymentStateRefunded); err != nil {
		return err
	}
	if err := tx.Payments().Update(ctx, pay); err != nil {
		return err
	}

	from := order.Status
	if !order.Status.Terminal() {
		if err := order.Advance(domain.StatusRefunded, now); err != nil {
			return err
		}
	}
	order.PaymentStatus = domain.PaymentRefunded
	return recordTransition(ctx, tx, box, order, from, actor, "Payment fully refunded", now)
}

func failRefund(ctx context.Context, tx repository.Store, refund *domain.Refund, reason string) error {
	if refund.Status == domain.RefundFailed {
		return nil
	}
	if err := refund.Transition(domain.RefundFailed); err != nil {
		return err
	}
	refund.FailureReason = reason
	return tx.Refunds().Update(ctx, refund)
}

// settleDelivery books cash collection for COD orders and the platform commission
// and restaurant payout for every paid order.
func settleDelivery(ctx context.Context, tx repository.Store, box *outbox, order *domain.Order, ownerID uint64, commissionRate decimal.Decimal) error {
	final := order.FinalAmount()

	if order.PaymentMethod == domain.MethodCashOnDelivery && order.PaymentStatus == domain.PaymentPending {
		order.PaymentStatus = domain.PaymentPaid
		if err := appendLedger(ctx, tx, box, &domain.Transaction{
			UserID:       order.CustomerID,
			RestaurantID: order.RestaurantID,
			Type:         domain.TransactionPayment,
			Amount:       final,
			Description:  fmt.Sprintf("Cash collected for order #%s", order.OrderNumber),
			OrderID:      &order.ID,
			Metadata:     map[string]any{"method": string(domain.MethodCashOnDelivery)},
		}); err != nil {
			return err
		}
	}
	if order.PaymentStatus != domain.PaymentPaid {
		return nil
	}

	commission := domain.RoundMoney(order.TotalAmount.Mul(commissionRate).Div(decimal.NewFromInt(100)))
	payout := final.Sub(commission)

	if err := appendLedger(ctx, tx, box, &domain.Transaction{
		UserID:       ownerID,
		RestaurantID: order.RestaurantID,
		Type:         domain.TransactionCommission,
		Amount:       commission,
		Description:  fmt.Sprintf("Platform commission for order #%s", order.OrderNumber),
		OrderID:      &order.ID,
		Metadata:     map[string]any{"rate": commissionRate.String()},
	}); err != nil {
		return err
	}
	return appendLedger(ctx, tx, box, &domain.Transaction{
		UserID:       ownerID,
		RestaurantID: order.RestaurantID,
		Type:         domain.TransactionPayout,
		Amount:       payout,
		Description:  fmt.Sprintf("Payout for order #%s", order.OrderNumber),
		OrderID:      &order.ID,
	})
}
