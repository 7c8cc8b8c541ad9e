package http

import (
	"mealmate/internal/domain"
	"mealmate/internal/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AddCartItemRequest struct {
	MenuItemID          uint64 `json:"menuItemId" binding:"required"`
	Quantity            int    `json:"quantity" binding:"required"`
	SpecialInstructions string `json:"specialInstructions"`
	ReplaceCart         bool   `json:"replaceCart"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type PlaceOrderRequest struct {
	DeliveryAddress      domain.Address `json:"deliveryAddress" binding:"required"`
	DeliveryPhone        string         `json:"deliveryPhone" binding:"required"`
	DeliveryInstructions string         `json:"deliveryInstructions"`
	PaymentMethod        string         `json:"paymentMethod"`
}

type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type OrderResponse struct {
	*domain.Order
	FinalAmount decimal.Decimal `json:"finalAmount"`
}

func newOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{Order: o, FinalAmount: o.FinalAmount()}
}

type PaymentIntentRequest struct {
	OrderID uint64 `json:"orderId" binding:"required"`
}

// PaymentIntentResponse is what the checkout widget needs to open the gateway.
type PaymentIntentResponse struct {
	PaymentID      uuid.UUID `json:"paymentId"`
	GatewayOrderID string    `json:"razorpayOrderId"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	KeyID          string    `json:"keyId"`
	OrderNumber    string    `json:"orderNumber"`
}

func newPaymentIntentResponse(r *services.IntentResult) PaymentIntentResponse {
	return PaymentIntentResponse{
		PaymentID:      r.Payment.PaymentID,
		GatewayOrderID: r.GatewayOrderID,
		Amount:         r.AmountMinor,
		Currency:       r.Currency,
		KeyID:          r.KeyID,
		OrderNumber:    r.OrderNumber,
	}
}

// VerifyPaymentRequest mirrors the fields the checkout widget hands back.
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" binding:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature        string `json:"razorpay_signature" binding:"required"`
}

type VerifyPaymentResponse struct {
	Payment         *domain.Payment `json:"payment"`
	Order           OrderResponse   `json:"order"`
	AlreadyCaptured bool            `json:"alreadyCaptured"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Full   bool             `json:"full"`
	Reason string           `json:"reason" binding:"required"`
}

type ConfirmRefundRequest struct {
	GatewayRefundID string         `json:"gatewayRefundId"`
	Response        map[string]any `json:"response"`
}

type FailRefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}
