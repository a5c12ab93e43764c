package models

import (
	"database/sql"
	"time"
)

// User is the account that owns orders
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Product represents a product in the catalog. Price is in minor units.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Slug       string    `db:"slug" json:"slug"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	Stock      int       `db:"stock" json:"stock"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Coupon is a discount code. DiscountValue is a percentage for PERCENTAGE
// coupons and minor units for FIXED_AMOUNT ones.
type Coupon struct {
	ID               int64         `db:"id" json:"id"`
	Code             string        `db:"code" json:"code"`
	Description      string        `db:"description" json:"description"`
	DiscountType     DiscountType  `db:"discount_type" json:"discount_type"`
	DiscountValue    int64         `db:"discount_value" json:"discount_value"`
	MinOrderCents    int64         `db:"min_order_cents" json:"min_order_cents"`
	MaxDiscountCents sql.NullInt64 `db:"max_discount_cents" json:"-"`
	UsageLimit       sql.NullInt64 `db:"usage_limit" json:"-"`
	UsedCount        int64         `db:"used_count" json:"used_count"`
	ValidFrom        time.Time     `db:"valid_from" json:"valid_from"`
	ValidTo          time.Time     `db:"valid_to" json:"valid_to"`
	IsActive         bool          `db:"is_active" json:"is_active"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order. TotalCents is what the customer pays;
// TotalCents + DiscountCents equals the sum of item subtotals.
type Order struct {
	ID                  int64          `db:"id" json:"id"`
	UserID              int64          `db:"user_id" json:"user_id"`
	TotalCents          int64          `db:"total_cents" json:"total_cents"`
	DiscountCents       int64          `db:"discount_cents" json:"discount_cents"`
	CouponID            sql.NullInt64  `db:"coupon_id" json:"-"`
	Status              OrderStatus    `db:"status" json:"status"`
	ShippingAddressJSON string         `db:"shipping_address_json" json:"shipping_address"`
	PaymentIntentID     sql.NullString `db:"payment_intent_id" json:"-"`
	StockReserved       bool           `db:"stock_reserved" json:"stock_reserved"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
	Items               []OrderItem    `db:"-" json:"items"`
}

// SubtotalCents is the pre-discount amount reconstructed from the items
func (o *Order) SubtotalCents() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.SubtotalCents()
	}
	return total
}

// OrderItem represents items in an order. UnitPriceCents is the catalog
// price at purchase time.
type OrderItem struct {
	ID             int64 `db:"id" json:"id"`
	OrderID        int64 `db:"order_id" json:"order_id"`
	ProductID      int64 `db:"product_id" json:"product_id"`
	Quantity       int   `db:"quantity" json:"quantity"`
	UnitPriceCents int64 `db:"unit_price_cents" json:"unit_price_cents"`
}

func (i OrderItem) SubtotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// Payment is the single payment attempt bound to an order
type Payment struct {
	ID               int64          `db:"id" json:"id"`
	OrderID          int64          `db:"order_id" json:"order_id"`
	AmountCents      int64          `db:"amount_cents" json:"amount_cents"`
	Method           PaymentMethod  `db:"method" json:"method"`
	Status           PaymentStatus  `db:"status" json:"status"`
	GatewayOrderID   sql.NullString `db:"gateway_order_id" json:"-"`
	GatewayPaymentID sql.NullString `db:"gateway_payment_id" json:"-"`
	GatewaySignature sql.NullString `db:"gateway_signature" json:"-"`
	FailureReason    sql.NullString `db:"failure_reason" json:"-"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
	PaidAt           sql.NullTime   `db:"paid_at" json:"-"`
}
