package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOrderStatus     = errors.New("unknown order status")
	ErrUnknownPaymentMethod   = errors.New("unknown payment method")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

type OrderStatus string

// Order statuses
const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusPaid, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusProcessing, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:      {OrderStatusRefunded},
	OrderStatusCancelled:      nil,
	OrderStatusRefunded:       nil,
}

// ParseOrderStatus turns free text into one of the known statuses
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOrderStatus, s)
	}
	return status, nil
}

func (s OrderStatus) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition validates s -> next and returns next
func (s OrderStatus) Transition(next OrderStatus) (OrderStatus, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: order %s -> %s", ErrInvalidStateTransition, s, next)
	}
	return next, nil
}

type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && (next == PaymentStatusSuccess || next == PaymentStatusFailed)
}

type PaymentMethod string

const (
	PaymentMethodCard       PaymentMethod = "CARD"
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentMethodUPI        PaymentMethod = "UPI"
	PaymentMethodNetBanking PaymentMethod = "NET_BANKING"
	PaymentMethodCOD        PaymentMethod = "COD"
	PaymentMethodWallet     PaymentMethod = "WALLET"
)

var paymentMethods = map[PaymentMethod]struct{}{
	PaymentMethodCard:       {},
	PaymentMethodCreditCard: {},
	PaymentMethodDebitCard:  {},
	PaymentMethodUPI:        {},
	PaymentMethodNetBanking: {},
	PaymentMethodCOD:        {},
	PaymentMethodWallet:     {},
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := paymentMethods[method]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, s)
	}
	return method, nil
}

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)
