package gateway

import (
	"encoding/json"

	"mealmate/internal/domain"
)

const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventOrderPaid         = "order.paid"
	EventRefundCreated     = "refund.created"
	EventRefundProcessed   = "refund.processed"
	EventRefundFailed      = "refund.failed"
)

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type entityWrapper[T any] struct {
	Entity T `json:"entity"`
}

// WebhookEvent is the subset of the gateway's webhook envelope the service reads.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *entityWrapper[PaymentEntity] `json:"payment"`
		Refund  *entityWrapper[RefundEntity]  `json:"refund"`
	} `json:"payload"`
}

func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, domain.Validationf("malformed webhook payload")
	}
	if evt.Event == "" {
		return nil, domain.Validationf("webhook payload has no event type")
	}
	return &evt, nil
}

func (e *WebhookEvent) Payment() *PaymentEntity {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func (e *WebhookEvent) Refund() *RefundEntity {
	if e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}

func (e *WebhookEvent) GatewayOrderID() string {
	if p := e.Payment(); p != nil {
		return p.OrderID
	}
	return ""
}

func (e *WebhookEvent) GatewayPaymentID() string {
	if p := e.Payment(); p != nil {
		return p.ID
	}
	if r := e.Refund(); r != nil {
		return r.PaymentID
	}
	return ""
}
