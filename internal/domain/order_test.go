package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPreparing, false},
		{StatusConfirmed, StatusPreparing, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusPreparing, StatusReady, true},
		{StatusPreparing, StatusCancelled, false},
		{StatusReady, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusOutForDelivery, StatusReady, false},
		{StatusPreparing, StatusRefunded, true},
		{StatusDelivered, StatusRefunded, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusRefunded, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrder_CheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		order   Order
		to      OrderStatus
		wantErr bool
	}{
		{
			name:  "confirm paid order",
			order: Order{Status: StatusPending, PaymentStatus: PaymentPaid, PaymentMethod: MethodRazorpay},
			to:    StatusConfirmed,
		},
		{
			name:    "confirm unpaid prepaid order",
			order:   Order{Status: StatusPending, PaymentStatus: PaymentPending, PaymentMethod: MethodRazorpay},
			to:      StatusConfirmed,
			wantErr: true,
		},
		{
			name:  "confirm cash on delivery order",
			order: Order{Status: StatusPending, PaymentStatus: PaymentPending, PaymentMethod: MethodCashOnDelivery},
			to:    StatusConfirmed,
		},
		{
			name:    "refund unpaid order",
			order:   Order{Status: StatusConfirmed, PaymentStatus: PaymentPending, PaymentMethod: MethodCashOnDelivery},
			to:      StatusRefunded,
			wantErr: true,
		},
		{
			name:  "refund paid order",
			order: Order{Status: StatusPreparing, PaymentStatus: PaymentPaid},
			to:    StatusRefunded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.CheckTransition(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrder_AdvanceStampsDelivery(t *testing.T) {
	o := Order{Status: StatusOutForDelivery, PaymentStatus: PaymentPaid}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, o.Advance(StatusDelivered, now))

	assert.Equal(t, StatusDelivered, o.Status)
	require.NotNil(t, o.ActualDeliveryTime)
	assert.Equal(t, now, *o.ActualDeliveryTime)
}

func TestOrder_FinalAmount(t *testing.T) {
	o := Order{
		TotalAmount:    decimal.RequireFromString("300.00"),
		DeliveryFee:    decimal.RequireFromString("40.00"),
		TaxAmount:      decimal.RequireFromString("15.00"),
		DiscountAmount: decimal.RequireFromString("5.50"),
	}

	assert.True(t, decimal.RequireFromString("349.50").Equal(o.FinalAmount()))
}

func TestPaymentAndRefundTransitions(t *testing.T) {
	p := Payment{Status: PaymentStateInitiated}
	require.NoError(t, p.Transition(PaymentStateCaptured))
	require.NoError(t, p.Transition(PaymentStateRefunded))
	assert.ErrorIs(t, p.Transition(PaymentStateCaptured), ErrInvalidTransition)

	failed := Payment{Status: PaymentStateFailed}
	assert.ErrorIs(t, failed.Transition(PaymentStateCaptured), ErrInvalidTransition)
	assert.NoError(t, failed.Transition(PaymentStateInitiated))

	r := Refund{Status: RefundInitiated}
	require.NoError(t, r.Transition(RefundPending))
	require.NoError(t, r.Transition(RefundProcessed))
	assert.ErrorIs(t, r.Transition(RefundFailed), ErrInvalidTransition)
	assert.True(t, RefundPending.Reserves())
	assert.False(t, RefundFailed.Reserves())
}
