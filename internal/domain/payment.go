package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState is the lifecycle of the gateway-facing payment record.
type PaymentState string

const (
	PaymentStateInitiated  PaymentState = "INITIATED"
	PaymentStatePending    PaymentState = "PENDING"
	PaymentStateAuthorized PaymentState = "AUTHORIZED"
	PaymentStateCaptured   PaymentState = "CAPTURED"
	PaymentStateFailed     PaymentState = "FAILED"
	PaymentStateRefunded   PaymentState = "REFUNDED"
	PaymentStateCancelled  PaymentState = "CANCELLED"
)

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStateInitiated:  {PaymentStatePending, PaymentStateAuthorized, PaymentStateCaptured, PaymentStateFailed, PaymentStateCancelled},
	PaymentStatePending:    {PaymentStateAuthorized, PaymentStateCaptured, PaymentStateFailed, PaymentStateCancelled},
	PaymentStateAuthorized: {PaymentStateCaptured, PaymentStateFailed, PaymentStateCancelled},
	PaymentStateCaptured:   {PaymentStateRefunded},
	PaymentStateFailed:     {PaymentStateInitiated},
}

func (s PaymentState) CanTransitionTo(next PaymentState) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the payment is still waiting on the customer or gateway.
func (s PaymentState) Open() bool {
	return s == PaymentStateInitiated || s == PaymentStatePending || s == PaymentStateAuthorized
}

type Payment struct {
	ID               uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	PaymentID        uuid.UUID       `json:"paymentId" gorm:"type:char(36);not null;uniqueIndex"`
	OrderID          uint64          `json:"orderId" gorm:"not null;uniqueIndex"`
	CustomerID       uint64          `json:"customerId" gorm:"not null;index"`
	GatewayOrderID   string          `json:"gatewayOrderId" gorm:"size:100;uniqueIndex"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty" gorm:"size:100;index"`
	GatewaySignature string          `json:"-" gorm:"size:255"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Currency         string          `json:"currency" gorm:"size:3;not null"`
	Status           PaymentState    `json:"status" gorm:"size:20;not null"`
	Method           PaymentMethod   `json:"method" gorm:"size:20;not null"`
	GatewayResponse  map[string]any  `json:"-" gorm:"serializer:json;type:text"`
	FailureReason    string          `json:"failureReason,omitempty" gorm:"type:text"`
	AuthorizedAt     *time.Time      `json:"authorizedAt,omitempty"`
	CapturedAt       *time.Time      `json:"capturedAt,omitempty"`
	FailedAt         *time.Time      `json:"failedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

// Transition moves the payment along its state graph.
func (p *Payment) Transition(next PaymentState) error {
	if !p.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "payment", From: string(p.Status), To: string(next)}
	}
	p.Status = next
	return nil
}

type RefundState string

const (
	RefundInitiated RefundState = "INITIATED"
	RefundPending   RefundState = "PENDING"
	RefundProcessed RefundState = "PROCESSED"
	RefundFailed    RefundState = "FAILED"
)

var refundTransitions = map[RefundState][]RefundState{
	RefundInitiated: {RefundPending, RefundProcessed, RefundFailed},
	RefundPending:   {RefundProcessed, RefundFailed},
}

func (s RefundState) CanTransitionTo(next RefundState) bool {
	for _, allowed := range refundTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Reserves reports whether a refund in this state counts against the refundable amount.
func (s RefundState) Reserves() bool {
	return s != RefundFailed
}

type RefundType string

const (
	RefundFull    RefundType = "FULL"
	RefundPartial RefundType = "PARTIAL"
)

type Refund struct {
	ID              uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	RefundID        uuid.UUID       `json:"refundId" gorm:"type:char(36);not null;uniqueIndex"`
	PaymentID       uint64          `json:"paymentId" gorm:"not null;index"`
	OrderID         uint64          `json:"orderId" gorm:"not null;index"`
	GatewayRefundID string          `json:"gatewayRefundId,omitempty" gorm:"size:100;index"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Type            RefundType      `json:"type" gorm:"size:10;not null"`
	Status          RefundState     `json:"status" gorm:"size:20;not null"`
	Reason          string          `json:"reason" gorm:"type:text;not null"`
	InitiatedBy     uint64          `json:"initiatedBy"`
	GatewayResponse map[string]any  `json:"-" gorm:"serializer:json;type:text"`
	FailureReason   string          `json:"failureReason,omitempty" gorm:"type:text"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (r *Refund) Transition(next RefundState) error {
	if !r.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "refund", From: string(r.Status), To: string(next)}
	}
	r.Status = next
	return nil
}

// PaymentWebhook is a verified gateway notification, stored once per gateway event id.
type PaymentWebhook struct {
	ID               uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	WebhookID        string     `json:"webhookId" gorm:"size:100;not null;uniqueIndex"`
	EventType        string     `json:"eventType" gorm:"size:50;not null"`
	GatewayOrderID   string     `json:"gatewayOrderId,omitempty" gorm:"size:100;index"`
	GatewayPaymentID string     `json:"gatewayPaymentId,omitempty" gorm:"size:100;index"`
	Payload          string     `json:"-" gorm:"type:text;not null"`
	Signature        string     `json:"-" gorm:"size:255;not null"`
	Processed        bool       `json:"processed" gorm:"not null;default:false"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt        time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
}
