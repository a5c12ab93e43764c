package store

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/lib/pq"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, total_cents, discount_cents, coupon_id, status,
			shipping_address_json, payment_intent_id, stock_reserved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.q.GetContext(ctx, order, query,
		order.UserID, order.TotalCents, order.DiscountCents, order.CouponID, order.Status,
		order.ShippingAddressJSON, order.PaymentIntentID, order.StockReserved)
}

// GetOrderByID retrieves an order by ID, without items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1"+s.lockClause(), id)
	if err := getOne(err); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	return s.execOne(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
}

// SetOrderStockReserved records whether the order's items are deducted from stock
func (s *Store) SetOrderStockReserved(ctx context.Context, orderID int64, reserved bool) error {
	return s.execOne(ctx,
		"UPDATE orders SET stock_reserved = $1, updated_at = NOW() WHERE id = $2",
		reserved, orderID)
}

// SetOrderPaymentIntent stores the gateway intent id on the order
func (s *Store) SetOrderPaymentIntent(ctx context.Context, orderID int64, intentID string) error {
	return s.execOne(ctx,
		"UPDATE orders SET payment_intent_id = $1, updated_at = NOW() WHERE id = $2",
		intentID, orderID)
}

// ListOrdersByUserID retrieves orders for a user, newest first
func (s *Store) ListOrdersByUserID(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.q.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	return orders, err
}

// ListOrders retrieves orders filtered by status, newest first
func (s *Store) ListOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	orders := []models.Order{}
	if status == "" {
		err := s.q.SelectContext(ctx, &orders,
			"SELECT * FROM orders ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
			limit, offset)
		return orders, err
	}
	err := s.q.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		status, limit, offset)
	return orders, err
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.q.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPriceCents)
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.q.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount_cents, method, status, gateway_order_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.q.GetContext(ctx, payment, query,
		payment.OrderID, payment.AmountCents, payment.Method, payment.Status, payment.GatewayOrderID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetPaymentByGatewayOrderID retrieves the payment bound to a gateway intent
func (s *Store) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.q.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE gateway_order_id = $1"+s.lockClause(), gatewayOrderID)
	if err := getOne(err); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByOrderID retrieves payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.q.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1"+s.lockClause(), orderID)
	if err := getOne(err); err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePayment writes the mutable payment columns
func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	return s.execOne(ctx, `
		UPDATE payments
		SET status = $1, gateway_payment_id = $2, gateway_signature = $3,
			failure_reason = $4, paid_at = $5, updated_at = NOW()
		WHERE id = $6`,
		payment.Status, payment.GatewayPaymentID, payment.GatewaySignature,
		payment.FailureReason, payment.PaidAt, payment.ID)
}

// execOne runs an update that must touch exactly one row
func (s *Store) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
