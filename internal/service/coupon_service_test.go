package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"checkout-service/internal/coupon"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCoupon(t *testing.T) {
	f := newFixture(t)
	f.welcome10(0)
	f.store.AddCoupon(models.Coupon{
		Code:          "OLD",
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 500,
		ValidFrom:     time.Now().Add(-48 * time.Hour),
		ValidTo:       time.Now().Add(-24 * time.Hour),
		IsActive:      true,
	})

	tests := []struct {
		name         string
		code         string
		amount       int64
		wantValid    bool
		wantMessage  string
		wantDiscount int64
	}{
		{"applies", "welcome10", 60000, true, coupon.ReasonApplied, 6000},
		{"capped", "WELCOME10", 1000000, true, coupon.ReasonApplied, 10000},
		{"below minimum", "WELCOME10", 49999, false, "Minimum order amount is $500.00", 0},
		{"unknown", "MISSING", 60000, false, coupon.ReasonNotFound, 0},
		{"expired", "old", 60000, false, coupon.ReasonOutsideWindow, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.coupons.ValidateCoupon(context.Background(), tt.code, tt.amount)
			require.NoError(t, err)

			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantMessage, got.Message)
			assert.Equal(t, tt.wantDiscount, got.DiscountCents)
			assert.Equal(t, tt.amount-tt.wantDiscount, got.FinalAmountCents)
			assert.Equal(t, tt.wantValid, got.Coupon != nil)
		})
	}
}

func TestValidateCoupon_NegativeAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.coupons.ValidateCoupon(context.Background(), "WELCOME10", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAttachCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.welcome10(1)
	p := f.product(1000, 5)

	first, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)

	attached, err := f.coupons.AttachCoupon(ctx, c.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, attached)

	attached, err = f.coupons.AttachCoupon(ctx, c.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, attached)

	_, err = f.coupons.AttachCoupon(ctx, c.ID, second.ID)
	assert.ErrorIs(t, err, ErrCouponExhausted)

	stored, _ := f.store.Coupon(c.ID)
	assert.Equal(t, int64(1), stored.UsedCount)
}

func TestError_Matching(t *testing.T) {
	err := detailf(ErrInsufficientStock, "product %d", 7)

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrProductInactive)
	assert.Equal(t, "insufficient stock: product 7", err.Error())

	wrapped := fmt.Errorf("checkout: %w", err)
	assert.ErrorIs(t, wrapped, ErrInsufficientStock)
	assert.Equal(t, KindInvalidState, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))
	assert.Same(t, ErrOrderNotFound, classify("op", ErrOrderNotFound))

	cause := errors.New("connection reset")
	err := classify("commit", cause)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to commit: connection reset", err.Error())
}
