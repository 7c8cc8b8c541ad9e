package gateway

import "context"

type ClientInterface interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	CreateRefund(ctx context.Context, gatewayPaymentID string, amountMinor int64) (*Refund, error)
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) error
	VerifyWebhookSignature(body []byte, signature string) error
	KeyID() string
}

var _ ClientInterface = (*Client)(nil)
