package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderStatus
		wantErr bool
	}{
		{in: "PAID", want: OrderStatusPaid},
		{in: " shipped ", want: OrderStatusShipped},
		{in: "pending_payment", want: OrderStatusPendingPayment},
		{in: "LOST_IN_TRANSIT", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrderStatus(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnknownOrderStatus))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, OrderStatusPendingPayment.CanTransitionTo(OrderStatusPaid))
	assert.True(t, OrderStatusPendingPayment.CanTransitionTo(OrderStatusProcessing))
	assert.True(t, OrderStatusPaid.CanTransitionTo(OrderStatusRefunded))
	assert.True(t, OrderStatusShipped.CanTransitionTo(OrderStatusDelivered))

	assert.False(t, OrderStatusPendingPayment.CanTransitionTo(OrderStatusDelivered))
	assert.False(t, OrderStatusDelivered.CanTransitionTo(OrderStatusPendingPayment))
	assert.False(t, OrderStatusCancelled.CanTransitionTo(OrderStatusPaid))
	assert.False(t, OrderStatusPaid.CanTransitionTo(OrderStatusPaid))

	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())

	_, err := OrderStatusRefunded.Transition(OrderStatusShipped)
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusSuccess))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusSuccess.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusSuccess))
}

func TestParsePaymentMethod(t *testing.T) {
	m, err := ParsePaymentMethod("upi")
	require.NoError(t, err)
	assert.Equal(t, PaymentMethodUPI, m)

	_, err = ParsePaymentMethod("barter")
	assert.True(t, errors.Is(err, ErrUnknownPaymentMethod))
}

func TestShippingAddressCodec(t *testing.T) {
	addr := ShippingAddress{
		FullName:     "Asha Rao",
		Email:        "asha@example.com",
		Phone:        "+91-900000000",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "KA",
		PostalCode:   "560001",
		Country:      "IN",
	}

	first, err := EncodeShippingAddress(addr)
	require.NoError(t, err)
	second, err := EncodeShippingAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotContains(t, first, "address_line2")

	decoded, err := DecodeShippingAddress(first)
	require.NoError(t, err)
	assert.Equal(t, addr, decoded)
}

func TestOrderSubtotal(t *testing.T) {
	o := &Order{
		TotalCents:    5400,
		DiscountCents: 600,
		Items: []OrderItem{
			{Quantity: 2, UnitPriceCents: 2000},
			{Quantity: 1, UnitPriceCents: 2000},
		},
	}
	assert.Equal(t, int64(6000), o.SubtotalCents())
	assert.Equal(t, o.SubtotalCents(), o.TotalCents+o.DiscountCents)
}
