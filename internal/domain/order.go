package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusPreparing      OrderStatus = "PREPARING"
	StatusReady          OrderStatus = "READY"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusRefunded       OrderStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady},
	StatusReady:          {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOutForDelivery, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// CanTransitionTo reports whether the status graph has an edge s -> next.
// REFUNDED is reachable from every non-terminal status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == StatusRefunded {
		return !s.Terminal()
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus is the order-level view of payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	MethodRazorpay       PaymentMethod = "RAZORPAY"
	MethodCashOnDelivery PaymentMethod = "COD"
	MethodWallet         PaymentMethod = "WALLET"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodRazorpay || m == MethodCashOnDelivery || m == MethodWallet
}

// Address is snapshotted onto the order at placement.
type Address struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

type Order struct {
	ID                    uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderNumber           string          `json:"orderNumber" gorm:"size:20;not null;uniqueIndex"`
	CustomerID            uint64          `json:"customerId" gorm:"not null;index"`
	CustomerEmail         string          `json:"-" gorm:"size:255"`
	RestaurantID          uint64          `json:"restaurantId" gorm:"not null;index"`
	Status                OrderStatus     `json:"status" gorm:"size:20;not null;index"`
	PaymentStatus         PaymentStatus   `json:"paymentStatus" gorm:"size:20;not null"`
	PaymentMethod         PaymentMethod   `json:"paymentMethod" gorm:"size:20;not null"`
	TotalAmount           decimal.Decimal `json:"totalAmount" gorm:"type:decimal(10,2);not null"`
	DeliveryFee           decimal.Decimal `json:"deliveryFee" gorm:"type:decimal(10,2);not null"`
	TaxAmount             decimal.Decimal `json:"taxAmount" gorm:"type:decimal(10,2);not null"`
	DiscountAmount        decimal.Decimal `json:"discountAmount" gorm:"type:decimal(10,2);not null"`
	DeliveryAddress       Address         `json:"deliveryAddress" gorm:"serializer:json;type:text"`
	DeliveryPhone         string          `json:"deliveryPhone" gorm:"size:20;not null"`
	DeliveryInstructions  string          `json:"deliveryInstructions,omitempty" gorm:"type:text"`
	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime,omitempty"`
	ActualDeliveryTime    *time.Time      `json:"actualDeliveryTime,omitempty"`
	Items                 []OrderItem     `json:"items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt             time.Time       `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt             time.Time       `json:"updatedAt" gorm:"autoUpdateTime"`
}

// FinalAmount is total + delivery fee + tax - discount.
func (o *Order) FinalAmount() decimal.Decimal {
	return o.TotalAmount.Add(o.DeliveryFee).Add(o.TaxAmount).Sub(o.DiscountAmount)
}

// CheckTransition validates a move to next against both the status graph and the
// payment preconditions attached to it.
func (o *Order) CheckTransition(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(next)}
	}
	switch next {
	case StatusConfirmed:
		if o.PaymentStatus != PaymentPaid && o.PaymentMethod != MethodCashOnDelivery {
			return &InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(next)}
		}
	case StatusRefunded:
		if o.PaymentStatus != PaymentPaid {
			return &InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(next)}
		}
	}
	return nil
}

// Advance applies a checked transition and stamps delivery time when reaching DELIVERED.
func (o *Order) Advance(next OrderStatus, now time.Time) error {
	if err := o.CheckTransition(next); err != nil {
		return err
	}
	o.Status = next
	if next == StatusDelivered {
		o.ActualDeliveryTime = &now
	}
	return nil
}

type OrderItem struct {
	ID                  uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID             uint64          `json:"orderId" gorm:"not null;index"`
	MenuItemID          uint64          `json:"menuItemId" gorm:"not null"`
	Name                string          `json:"name" gorm:"size:200;not null"`
	Quantity            int             `json:"quantity" gorm:"not null"`
	UnitPrice           decimal.Decimal `json:"unitPrice" gorm:"type:decimal(10,2);not null"`
	SpecialInstructions string          `json:"specialInstructions,omitempty" gorm:"type:text"`
	CreatedAt           time.Time       `json:"createdAt" gorm:"autoCreateTime"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type OrderStatusHistory struct {
	ID            uint64      `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID       uint64      `json:"orderId" gorm:"not null;index"`
	FromStatus    OrderStatus `json:"fromStatus,omitempty" gorm:"size:20"`
	Status        OrderStatus `json:"status" gorm:"size:20;not null"`
	ChangedBy     uint64      `json:"changedBy"`
	ChangedByRole Role        `json:"changedByRole" gorm:"size:20"`
	Notes         string      `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt     time.Time   `json:"createdAt" gorm:"autoCreateTime"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
