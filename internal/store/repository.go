package store

import (
	"context"
	"errors"

	"checkout-service/internal/models"
)

var (
	// ErrNotFound is returned by lookups that match no row
	ErrNotFound = errors.New("store: not found")
	// ErrUsageLimitReached is returned by RedeemCoupon when the coupon has no uses left
	ErrUsageLimitReached = errors.New("store: coupon usage limit reached")
	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("store: conflict")
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type ProductRepository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	// DecrementStock subtracts quantity only if enough stock remains.
	// It reports false, without changing anything, otherwise.
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, quantity int) error
}

type CouponRepository interface {
	GetActiveCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	// RedeemCoupon records one use of the coupon by the order. It reports
	// false when the order already redeemed it.
	RedeemCoupon(ctx context.Context, couponID, orderID int64) (bool, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error)
	// ListOrders returns every order when status is empty
	ListOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	SetOrderStockReserved(ctx context.Context, orderID int64, reserved bool) error
	SetOrderPaymentIntent(ctx context.Context, orderID int64, intentID string) error
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
}

type EventRepository interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is the full set of capabilities the checkout core consumes
type Repository interface {
	UserRepository
	ProductRepository
	CouponRepository
	OrderRepository
	PaymentRepository
	EventRepository
}

// Transactor runs fn as a single unit of work. If fn returns an error every
// write made through repo is discarded.
type Transactor interface {
	Repository
	InTx(ctx context.Context, fn func(repo Repository) error) error
}
