// Package coupon computes coupon validity and discounts. It performs no I/O;
// usage counting lives in the service layer.
package coupon

import (
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// Reasons reported when a coupon does not apply
const (
	ReasonApplied        = "Coupon applied successfully"
	ReasonNotFound       = "Invalid or expired coupon code"
	ReasonInactive       = "Coupon is no longer active"
	ReasonOutsideWindow  = "Coupon is expired or not yet valid"
	ReasonUsageExhausted = "Coupon usage limit reached"
	ReasonUnknownType    = "Coupon has an unsupported discount type"
)

// Result is the outcome of evaluating a coupon against an order amount
type Result struct {
	Applicable    bool
	DiscountCents int64
	Reason        string
}

func notApplicable(reason string) Result {
	return Result{Reason: reason}
}

// Validity returns "" when the coupon is usable at now, otherwise the reason
// it is not. The window is inclusive on both ends.
func Validity(c *models.Coupon, now time.Time) string {
	switch {
	case c == nil:
		return ReasonNotFound
	case !c.IsActive:
		return ReasonInactive
	case now.Before(c.ValidFrom) || now.After(c.ValidTo):
		return ReasonOutsideWindow
	case c.UsageLimit.Valid && c.UsedCount >= c.UsageLimit.Int64:
		return ReasonUsageExhausted
	}
	return ""
}

// IsValid reports whether the coupon is active, in its window and under its usage limit
func IsValid(c *models.Coupon, now time.Time) bool {
	return Validity(c, now) == ""
}

// Evaluate computes the discount c grants on orderAmountCents. It fails
// closed: any problem yields Applicable=false and a zero discount.
func Evaluate(c *models.Coupon, orderAmountCents int64, now time.Time) Result {
	if reason := Validity(c, now); reason != "" {
		return notApplicable(reason)
	}

	if orderAmountCents < c.MinOrderCents {
		return notApplicable(fmt.Sprintf("Minimum order amount is $%s", FormatCents(c.MinOrderCents)))
	}

	var discount int64
	switch c.DiscountType {
	case models.DiscountTypePercentage:
		discount = orderAmountCents * c.DiscountValue / 100
		if c.MaxDiscountCents.Valid && discount > c.MaxDiscountCents.Int64 {
			discount = c.MaxDiscountCents.Int64
		}
	case models.DiscountTypeFixedAmount:
		discount = c.DiscountValue
	default:
		return notApplicable(ReasonUnknownType)
	}

	if discount > orderAmountCents {
		discount = orderAmountCents
	}
	if discount < 0 {
		discount = 0
	}

	return Result{
		Applicable:    true,
		DiscountCents: discount,
		Reason:        ReasonApplied,
	}
}

// FormatCents renders minor units as a major-unit string, e.g. 50000 -> "500.00"
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
