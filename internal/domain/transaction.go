package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionPayment    TransactionType = "PAYMENT"
	TransactionRefund     TransactionType = "REFUND"
	TransactionCommission TransactionType = "COMMISSION"
	TransactionPayout     TransactionType = "PAYOUT"
)

// Transaction is an append-only ledger entry. Rows are never updated.
type Transaction struct {
	ID            uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	TransactionID uuid.UUID       `json:"transactionId" gorm:"type:char(36);not null;uniqueIndex"`
	UserID        uint64          `json:"userId" gorm:"not null;index"`
	RestaurantID  uint64          `json:"restaurantId" gorm:"index"`
	Type          TransactionType `json:"type" gorm:"size:20;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	Description   string          `json:"description" gorm:"type:text"`
	OrderID       *uint64         `json:"orderId,omitempty" gorm:"index"`
	PaymentID     *uint64         `json:"paymentId,omitempty" gorm:"index"`
	RefundID      *uint64         `json:"refundId,omitempty" gorm:"index"`
	Metadata      map[string]any  `json:"metadata,omitempty" gorm:"serializer:json;type:text"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"autoCreateTime"`
}
