package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderCODConfirmed  = "ORDER_COD_CONFIRMED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when an order and its items are persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	TotalCents    int64           `json:"total_cents"`
	DiscountCents int64           `json:"discount_cents"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a gateway payment is verified
type OrderPaidEvent struct {
	BaseEvent
	OrderID          int64  `json:"order_id"`
	PaymentID        int64  `json:"payment_id"`
	AmountCents      int64  `json:"amount_cents"`
	GatewayPaymentID string `json:"gateway_payment_id"`
}

// OrderCODConfirmedEvent published when a cash-on-delivery order is confirmed
type OrderCODConfirmedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// OrderStatusChangedEvent published on admin status changes
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       int64       `json:"order_id"`
	From          OrderStatus `json:"from"`
	To            OrderStatus `json:"to"`
	StockReleased bool        `json:"stock_released"`
}

// PaymentFailedEvent is reported by the gateway bridge
type PaymentFailedEvent struct {
	BaseEvent
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

func ItemData(items []OrderItem) []OrderItemData {
	data := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, OrderItemData{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return data
}
