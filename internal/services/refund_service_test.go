package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mealmate/internal/domain"
	"mealmate/internal/infra/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (f *fixture) expectRefund(order *domain.Order, amountMinor int64, gwRefundID, status string) *mock.Call {
	return f.gateway.On("CreateRefund", mock.Anything, gatewayPaymentID(order), amountMinor).
		Return(&gateway.Refund{ID: gwRefundID, PaymentID: gatewayPaymentID(order), AmountMinor: amountMinor, Status: status}, nil)
}

func TestRefundService_FullRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.capture(t)
	f.expectRefund(order, 30000, "rfnd_full", "pending").Once()

	refund, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("300.00"), Reason: "Food arrived cold", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, refund.Status)
	assert.Equal(t, domain.RefundFull, refund.Type)
	assert.Equal(t, "rfnd_full", refund.GatewayRefundID)
	assert.Len(t, f.ledgerFor(t, order.ID), 1, "nothing is booked before the gateway confirms")

	confirmed, err := f.refunds.ConfirmRefund(ctx, refund.ID, RefundConfirmation{GatewayRefundID: "rfnd_full"}, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, confirmed.Status)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, domain.PaymentRefunded, stored.PaymentStatus)
	assert.Equal(t, domain.StatusRefunded, stored.Status)
	assert.Equal(t, domain.PaymentStateRefunded, f.reloadPayment(t, order.ID).Status)

	refunds := entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund)
	require.Len(t, refunds, 1)
	assertMoney(t, "300.00", refunds[0].Amount)

	_, err = f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("1.00"), Reason: "Goodwill", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrConflict)

	again, err := f.refunds.ConfirmRefund(ctx, refund.ID, RefundConfirmation{}, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, again.Status)
	assert.Len(t, entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund), 1)
}

func TestRefundService_PartialRefundsNeverExceedCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.capture(t)
	f.expectRefund(order, 20000, "rfnd_a", "pending").Once()
	f.expectRefund(order, 10000, "rfnd_b", "processed").Once()
	f.expectRefund(order, 15000, "rfnd_c", "processed").Once()

	a, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("200.00"), Reason: "Wrong dish", Actor: admin})
	require.NoError(t, err)

	_, err = f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("150.00"), Reason: "Late", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrConflict, "a pending refund reserves its amount")

	b, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("100.00"), Reason: "Late", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, b.Status)
	assert.Equal(t, domain.PaymentPaid, f.reloadOrder(t, order.ID).PaymentStatus)

	_, err = f.refunds.FailRefund(ctx, a.ID, "Bank rejected", admin)
	require.NoError(t, err)

	c, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("150.00"), Reason: "Late", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, c.Status)

	_, err = f.refunds.ConfirmRefund(ctx, a.ID, RefundConfirmation{}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	processed := money("0")
	for _, e := range entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund) {
		processed = processed.Add(e.Amount)
	}
	assertMoney(t, "250.00", processed)
	assert.Equal(t, domain.PaymentPaid, f.reloadOrder(t, order.ID).PaymentStatus)
}

func TestRefundService_InitiateRejections(t *testing.T) {
	tests := []struct {
		name        string
		paid        bool
		input       func(orderID uint64) RefundInput
		expectedErr error
	}{
		{
			name:        "customers cannot refund",
			paid:        true,
			input:       func(id uint64) RefundInput { return RefundInput{OrderID: id, Amount: money("10"), Reason: "x", Actor: customer} },
			expectedErr: domain.ErrForbidden,
		},
		{
			name:        "reason required",
			paid:        true,
			input:       func(id uint64) RefundInput { return RefundInput{OrderID: id, Amount: money("10"), Actor: admin} },
			expectedErr: domain.ErrValidation,
		},
		{
			name:        "non-positive amount",
			paid:        true,
			input:       func(id uint64) RefundInput { return RefundInput{OrderID: id, Amount: money("0"), Reason: "x", Actor: admin} },
			expectedErr: domain.ErrValidation,
		},
		{
			name:        "sub-paise amount",
			paid:        true,
			input:       func(id uint64) RefundInput { return RefundInput{OrderID: id, Amount: money("10.005"), Reason: "x", Actor: admin} },
			expectedErr: domain.ErrValidation,
		},
		{
			name:        "more than captured",
			paid:        true,
			input:       func(id uint64) RefundInput { return RefundInput{OrderID: id, Amount: money("300.01"), Reason: "x", Actor: admin} },
			expectedErr: domain.ErrConflict,
		},
		{
			name:        "payment not captured",
			input:       func(id uint64) RefundInput { return RefundInput{OrderID: id, Amount: money("10"), Reason: "x", Actor: admin} },
			expectedErr: domain.ErrInvalidTransition,
		},
		{
			name:        "unknown order",
			input:       func(uint64) RefundInput { return RefundInput{OrderID: 9999, Amount: money("10"), Reason: "x", Actor: admin} },
			expectedErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var order *domain.Order
			if tt.paid {
				order = f.capture(t)
			} else {
				order = f.placeOrder(t, customer, domain.MethodRazorpay)
				f.openIntent(t, order)
			}

			refund, err := f.refunds.InitiateRefund(context.Background(), tt.input(order.ID))

			assert.ErrorIs(t, err, tt.expectedErr)
			assert.Nil(t, refund)
			f.gateway.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRefundService_GatewayFailureMarksRefundFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.capture(t)
	f.gateway.On("CreateRefund", mock.Anything, gatewayPaymentID(order), int64(5000)).
		Return(nil, domain.GatewayFailure("create gateway refund", errors.New("503 from upstream"))).Once()

	_, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("50.00"), Reason: "Spilled", Actor: admin})

	assert.ErrorIs(t, err, domain.ErrGateway)
	refunds, err := f.store.Refunds().ListByPayment(ctx, f.reloadPayment(t, order.ID).ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundFailed, refunds[0].Status)
	assert.Empty(t, entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund))
	assert.Equal(t, domain.PaymentPaid, f.reloadOrder(t, order.ID).PaymentStatus)

	// The failed refund no longer reserves anything.
	f.expectRefund(order, 30000, "rfnd_retry", "pending").Once()
	_, err = f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Full: true, Reason: "Spilled", Actor: admin})
	require.NoError(t, err)
}

func TestRefundService_GatewayTimeoutKeepsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.capture(t)
	f.gateway.On("CreateRefund", mock.Anything, gatewayPaymentID(order), int64(30000)).
		Return(nil, domain.GatewayFailure("create gateway refund", context.DeadlineExceeded)).Once()

	_, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Full: true, Reason: "Never arrived", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrGateway)

	refunds, err := f.store.Refunds().ListByPayment(ctx, f.reloadPayment(t, order.ID).ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundInitiated, refunds[0].Status)
	assert.NotEmpty(t, refunds[0].FailureReason)
	assert.Empty(t, entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund))

	// The gateway may have taken the refund, so its amount stays reserved.
	_, err = f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("100.00"), Reason: "Never arrived", Actor: admin})
	assert.ErrorIs(t, err, domain.ErrConflict)

	confirmed, err := f.refunds.ConfirmRefund(ctx, refunds[0].ID, RefundConfirmation{GatewayRefundID: "rfnd_late"}, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, confirmed.Status)
	assert.Equal(t, "rfnd_late", confirmed.GatewayRefundID)
	assert.Empty(t, confirmed.FailureReason)
	assert.Len(t, entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund), 1)
	assert.Equal(t, domain.PaymentRefunded, f.reloadOrder(t, order.ID).PaymentStatus)
}

func TestRefundService_ConcurrentRefundsRespectCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.capture(t)
	f.expectRefund(order, 20000, "rfnd_concurrent", "pending")

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("200.00"), Reason: "Wrong dish", Actor: admin})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, accepted)
	f.gateway.AssertNumberOfCalls(t, "CreateRefund", 1)

	refunds, err := f.store.Refunds().ListByPayment(ctx, f.reloadPayment(t, order.ID).ID)
	require.NoError(t, err)
	reserved := money("0")
	for _, r := range refunds {
		if r.Status.Reserves() {
			reserved = reserved.Add(r.Amount)
		}
	}
	assert.True(t, reserved.LessThanOrEqual(money("300.00")), "reserved %s", reserved)
	assertMoney(t, "200.00", reserved)
}

func TestRefundService_FailRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.capture(t)
	f.expectRefund(order, 5000, "rfnd_pending", "pending").Once()
	f.expectRefund(order, 2500, "rfnd_done", "processed").Once()

	pending, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("50.00"), Reason: "Spilled", Actor: admin})
	require.NoError(t, err)
	done, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("25.00"), Reason: "Cold", Actor: admin})
	require.NoError(t, err)

	failed, err := f.refunds.FailRefund(ctx, pending.ID, "Account closed", admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundFailed, failed.Status)
	assert.Equal(t, "Account closed", failed.FailureReason)

	_, err = f.refunds.FailRefund(ctx, done.ID, "too late", admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.refunds.FailRefund(ctx, pending.ID, "again", customer)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.Len(t, entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund), 1)
	assert.Equal(t, domain.StatusConfirmed, f.reloadOrder(t, order.ID).Status)
}
