package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
)

type OrderEvent struct {
	OrderID        uint64          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	CustomerID     uint64          `json:"customerId"`
	RestaurantID   uint64          `json:"restaurantId"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previousStatus,omitempty"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

func NewOrderEvent(o *Order, previous OrderStatus, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		RestaurantID:   o.RestaurantID,
		Status:         o.Status,
		PreviousStatus: previous,
		PaymentStatus:  o.PaymentStatus,
		FinalAmount:    o.FinalAmount(),
		OccurredAt:     at,
	}
}
