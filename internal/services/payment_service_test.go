package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"mealmate/internal/domain"
	"mealmate/internal/infra/gateway"
	"mealmate/internal/repository"
	"mealmate/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPaymentService_CreateIntentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.expectGatewayOrder(order, "order_gw_1").Once()

	first, err := f.payments.CreateIntent(ctx, order.ID, customer)
	require.NoError(t, err)
	second, err := f.payments.CreateIntent(ctx, order.ID, customer)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateInitiated, first.Payment.Status)
	assert.Equal(t, "order_gw_1", first.GatewayOrderID)
	assert.Equal(t, int64(30000), first.AmountMinor)
	assert.Equal(t, "rzp_test_key", first.KeyID)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.Payment.PaymentID, second.Payment.PaymentID)
	f.gateway.AssertNumberOfCalls(t, "CreateOrder", 1)
}

func TestPaymentService_CreateIntentRejections(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, f *fixture) (uint64, domain.Actor)
		expectedErr error
	}{
		{
			name: "cash on delivery",
			setup: func(t *testing.T, f *fixture) (uint64, domain.Actor) {
				return f.placeOrder(t, customer, domain.MethodCashOnDelivery).ID, customer
			},
			expectedErr: domain.ErrValidation,
		},
		{
			name: "someone else's order",
			setup: func(t *testing.T, f *fixture) (uint64, domain.Actor) {
				return f.placeOrder(t, customer, domain.MethodRazorpay).ID, otherUser
			},
			expectedErr: domain.ErrNotFound,
		},
		{
			name: "already captured",
			setup: func(t *testing.T, f *fixture) (uint64, domain.Actor) {
				return f.capture(t).ID, customer
			},
			expectedErr: domain.ErrInvalidTransition,
		},
		{
			name: "gateway unavailable",
			setup: func(t *testing.T, f *fixture) (uint64, domain.Actor) {
				order := f.placeOrder(t, customer, domain.MethodRazorpay)
				f.gateway.On("CreateOrder", mock.Anything, mock.Anything).
					Return(nil, domain.GatewayFailure("create gateway order", errors.New("connection refused")))
				return order.ID, customer
			},
			expectedErr: domain.ErrGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			orderID, actor := tt.setup(t, f)
			before, err := f.store.Payments().FindByOrderID(context.Background(), orderID)
			require.NoError(t, err)

			res, err := f.payments.CreateIntent(context.Background(), orderID, actor)

			assert.ErrorIs(t, err, tt.expectedErr)
			assert.Nil(t, res)
			after, err := f.store.Payments().FindByOrderID(context.Background(), orderID)
			require.NoError(t, err)
			assert.Equal(t, before == nil, after == nil, "payment rows must not change")
		})
	}
}

func TestPaymentService_VerifyCapturesPayment(t *testing.T) {
	f := newFixture(t)

	order := f.capture(t)

	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.Equal(t, domain.PaymentPaid, order.PaymentStatus)
	pay := f.reloadPayment(t, order.ID)
	assert.Equal(t, domain.PaymentStateCaptured, pay.Status)
	assert.Equal(t, gatewayPaymentID(order), pay.GatewayPaymentID)
	assert.NotNil(t, pay.CapturedAt)

	entries := f.ledgerFor(t, order.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionPayment, entries[0].Type)
	assertMoney(t, "300.00", entries[0].Amount)
	assert.Equal(t, customer.ID, entries[0].UserID)
	f.ledgerPub.AssertNumberOfCalls(t, "PublishTransaction", 1)
}

func TestPaymentService_VerifyInvalidSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)
	f.expectSignature(gatewayOrderID(order), gatewayPaymentID(order), "forged", domain.Signaturef("payment signature verification failed"))

	res, err := f.payments.Verify(ctx, VerifyInput{
		GatewayOrderID:   gatewayOrderID(order),
		GatewayPaymentID: gatewayPaymentID(order),
		Signature:        "forged",
		Actor:            customer,
	})

	assert.ErrorIs(t, err, domain.ErrSignature)
	assert.Nil(t, res)
	pay := f.reloadPayment(t, order.ID)
	assert.Equal(t, domain.PaymentStateFailed, pay.Status)
	assert.NotEmpty(t, pay.FailureReason)
	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, domain.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, f.ledgerFor(t, order.ID))

	// A failed attempt can be retried with a fresh gateway order on the same row.
	f.expectGatewayOrder(order, "order_gw_retry").Once()
	retry, err := f.payments.CreateIntent(ctx, order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, pay.ID, retry.Payment.ID)
	assert.Equal(t, domain.PaymentStateInitiated, retry.Payment.Status)
	assert.Equal(t, "order_gw_retry", retry.GatewayOrderID)
	assert.Empty(t, retry.Payment.FailureReason)
}

func TestPaymentService_VerifyAfterCancelRecordsReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)
	_, err := f.orders.Cancel(ctx, CancelInput{OrderID: order.ID, Actor: customer, Reason: "changed my mind"})
	require.NoError(t, err)
	f.expectSignature(gatewayOrderID(order), gatewayPaymentID(order), "good-signature", nil)

	res, err := f.payments.Verify(ctx, VerifyInput{
		GatewayOrderID:   gatewayOrderID(order),
		GatewayPaymentID: gatewayPaymentID(order),
		Signature:        "good-signature",
		Actor:            customer,
	})

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Nil(t, res)
	pay := f.reloadPayment(t, order.ID)
	assert.Equal(t, domain.PaymentStateCancelled, pay.Status)
	assert.Contains(t, pay.FailureReason, gatewayPaymentID(order))
	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Empty(t, f.ledgerFor(t, order.ID))
}

func TestPaymentService_VerifyTwiceCapturesOnce(t *testing.T) {
	f := newFixture(t)
	order := f.capture(t)

	res, err := f.payments.Verify(context.Background(), VerifyInput{
		GatewayOrderID:   gatewayOrderID(order),
		GatewayPaymentID: gatewayPaymentID(order),
		Signature:        "good-signature",
		Actor:            customer,
	})

	require.NoError(t, err)
	assert.True(t, res.AlreadyCaptured)
	assert.Equal(t, domain.PaymentStateCaptured, res.Payment.Status)
	assert.Len(t, f.ledgerFor(t, order.ID), 1)
}

func TestPaymentService_ConcurrentVerifyCapturesOnce(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)
	f.expectSignature(gatewayOrderID(order), gatewayPaymentID(order), "good-signature", nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*VerifyResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.payments.Verify(context.Background(), VerifyInput{
				GatewayOrderID:   gatewayOrderID(order),
				GatewayPaymentID: gatewayPaymentID(order),
				Signature:        "good-signature",
				Actor:            customer,
			})
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		if !results[i].AlreadyCaptured {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Len(t, entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionPayment), 1)

	history, err := f.store.Orders().History(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// failingLedgerStore fails every ledger append, standing in for a crash after the
// payment row was updated.
type failingLedgerStore struct {
	repository.Store
}

type failingLedger struct {
	repository.LedgerRepository
}

func (s failingLedgerStore) Ledger() repository.LedgerRepository {
	return failingLedger{s.Store.Ledger()}
}

func (s failingLedgerStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Store) error {
		return fn(failingLedgerStore{tx})
	})
}

func (failingLedger) Append(context.Context, *domain.Transaction) error {
	return errors.New("disk I/O error")
}

func TestPaymentService_VerifyIsAtomic(t *testing.T) {
	base := testutil.NewStore(t)
	f := newFixtureWithStore(t, base)
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)
	f.expectSignature(gatewayOrderID(order), gatewayPaymentID(order), "good-signature", nil)

	broken := NewPaymentService(failingLedgerStore{base}, f.gateway, f.events, domain.DefaultCurrency, testutil.NewLogger(t))
	_, err := broken.Verify(context.Background(), VerifyInput{
		GatewayOrderID:   gatewayOrderID(order),
		GatewayPaymentID: gatewayPaymentID(order),
		Signature:        "good-signature",
		Actor:            customer,
	})

	require.Error(t, err)
	assert.Equal(t, domain.PaymentStateInitiated, f.reloadPayment(t, order.ID).Status)
	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, domain.PaymentPending, stored.PaymentStatus)
	assert.Empty(t, f.ledgerFor(t, order.ID))
	f.ledgerPub.AssertNotCalled(t, "PublishTransaction", mock.Anything, mock.Anything)
}

func paymentWebhook(t *testing.T, event, gwOrderID, gwPaymentID string, amountMinor int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":                gwPaymentID,
					"order_id":          gwOrderID,
					"amount":            amountMinor,
					"currency":          "INR",
					"status":            "captured",
					"error_description": "Card declined by issuer",
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func refundWebhook(t *testing.T, event, gwRefundID, gwPaymentID string, amountMinor int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"refund": map[string]any{
				"entity": map[string]any{
					"id":         gwRefundID,
					"payment_id": gwPaymentID,
					"amount":     amountMinor,
					"status":     "processed",
				},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func (f *fixture) acceptWebhookSignatures() {
	f.gateway.On("VerifyWebhookSignature", mock.Anything, "valid-webhook-signature").Return(nil)
}

func TestPaymentService_WebhookCaptureIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acceptWebhookSignatures()
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)
	in := WebhookInput{
		WebhookID: "evt_capture_1",
		Signature: "valid-webhook-signature",
		Body:      paymentWebhook(t, gateway.EventPaymentCaptured, gatewayOrderID(order), gatewayPaymentID(order), 30000),
	}

	first, err := f.payments.HandleWebhook(ctx, in)
	require.NoError(t, err)
	replay, err := f.payments.HandleWebhook(ctx, in)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, first.Webhook.Processed)
	assert.NotNil(t, first.Webhook.ProcessedAt)
	assert.True(t, replay.Duplicate)

	stored := f.reloadOrder(t, order.ID)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
	assert.Len(t, f.ledgerFor(t, order.ID), 1)
}

func TestPaymentService_WebhookAfterVerifyIsNoop(t *testing.T) {
	f := newFixture(t)
	f.acceptWebhookSignatures()
	order := f.capture(t)

	res, err := f.payments.HandleWebhook(context.Background(), WebhookInput{
		WebhookID: "evt_capture_late",
		Signature: "valid-webhook-signature",
		Body:      paymentWebhook(t, gateway.EventOrderPaid, gatewayOrderID(order), gatewayPaymentID(order), 30000),
	})

	require.NoError(t, err)
	assert.True(t, res.Webhook.Processed)
	assert.Len(t, f.ledgerFor(t, order.ID), 1)
}

func TestPaymentService_WebhookRejections(t *testing.T) {
	tests := []struct {
		name          string
		event         string
		amountMinor   int64
		signature     string
		expectedErr   error
		expectIgnored bool
	}{
		{name: "bad signature", event: gateway.EventPaymentCaptured, amountMinor: 30000, signature: "tampered", expectedErr: domain.ErrSignature},
		{name: "unknown event", event: "payment.dispute.created", amountMinor: 30000, signature: "valid-webhook-signature", expectIgnored: true},
		{name: "amount mismatch", event: gateway.EventPaymentCaptured, amountMinor: 100, signature: "valid-webhook-signature", expectIgnored: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.acceptWebhookSignatures()
			f.gateway.On("VerifyWebhookSignature", mock.Anything, "tampered").Return(domain.Signaturef("webhook signature verification failed"))
			order := f.placeOrder(t, customer, domain.MethodRazorpay)
			f.openIntent(t, order)
			in := WebhookInput{
				WebhookID: "evt_" + tt.name,
				Signature: tt.signature,
				Body:      paymentWebhook(t, tt.event, gatewayOrderID(order), gatewayPaymentID(order), tt.amountMinor),
			}

			res, err := f.payments.HandleWebhook(ctx, in)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, res)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectIgnored, res.Ignored)
				assert.False(t, res.Webhook.Processed)
				assert.NotEmpty(t, res.Webhook.LastError)

				// Unprocessed events are retried rather than treated as duplicates.
				again, err := f.payments.HandleWebhook(ctx, in)
				require.NoError(t, err)
				assert.False(t, again.Duplicate)
			}
			assert.Equal(t, domain.PaymentStateInitiated, f.reloadPayment(t, order.ID).Status)
			assert.Empty(t, f.ledgerFor(t, order.ID))
		})
	}
}

func TestPaymentService_WebhookPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acceptWebhookSignatures()
	order := f.placeOrder(t, customer, domain.MethodRazorpay)
	f.openIntent(t, order)

	_, err := f.payments.HandleWebhook(ctx, WebhookInput{
		WebhookID: "evt_auth",
		Signature: "valid-webhook-signature",
		Body:      paymentWebhook(t, gateway.EventPaymentAuthorized, gatewayOrderID(order), gatewayPaymentID(order), 30000),
	})
	require.NoError(t, err)
	pay := f.reloadPayment(t, order.ID)
	assert.Equal(t, domain.PaymentStateAuthorized, pay.Status)
	assert.NotNil(t, pay.AuthorizedAt)

	_, err = f.payments.HandleWebhook(ctx, WebhookInput{
		WebhookID: "evt_fail",
		Signature: "valid-webhook-signature",
		Body:      paymentWebhook(t, gateway.EventPaymentFailed, gatewayOrderID(order), gatewayPaymentID(order), 30000),
	})
	require.NoError(t, err)
	pay = f.reloadPayment(t, order.ID)
	assert.Equal(t, domain.PaymentStateFailed, pay.Status)
	assert.Equal(t, "Card declined by issuer", pay.FailureReason)
	assert.Equal(t, domain.StatusPending, f.reloadOrder(t, order.ID).Status)
}

func TestPaymentService_WebhookRefundProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acceptWebhookSignatures()
	order := f.capture(t)
	f.gateway.On("CreateRefund", mock.Anything, gatewayPaymentID(order), int64(10000)).
		Return(&gateway.Refund{ID: "rfnd_partial", AmountMinor: 10000, Status: "pending"}, nil).Once()

	refund, err := f.refunds.InitiateRefund(ctx, RefundInput{OrderID: order.ID, Amount: money("100.00"), Reason: "Missing naan", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, refund.Status)
	assert.Equal(t, domain.RefundPartial, refund.Type)

	res, err := f.payments.HandleWebhook(ctx, WebhookInput{
		WebhookID: "evt_refund_1",
		Signature: "valid-webhook-signature",
		Body:      refundWebhook(t, gateway.EventRefundProcessed, "rfnd_partial", gatewayPaymentID(order), 10000),
	})
	require.NoError(t, err)
	assert.True(t, res.Webhook.Processed)

	stored, err := f.store.Refunds().FindByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	refunds := entriesOfType(f.ledgerFor(t, order.ID), domain.TransactionRefund)
	require.Len(t, refunds, 1)
	assertMoney(t, "100.00", refunds[0].Amount)
	assert.Equal(t, domain.PaymentPaid, f.reloadOrder(t, order.ID).PaymentStatus)
	assert.Equal(t, domain.PaymentStateCaptured, f.reloadPayment(t, order.ID).Status)
}
