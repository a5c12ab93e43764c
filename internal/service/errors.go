package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure so adapters can map it to a response
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindUnauthorized     Kind = "unauthorized"
	KindInvalidSignature Kind = "invalid_signature"
	KindInvalidInput     Kind = "invalid_input"
	KindGateway          Kind = "gateway"
	KindPersistence      Kind = "persistence"
)

// Error is returned by every service operation. Two errors match under
// errors.Is when Kind and Reason are equal, whatever the wrapped detail.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Reason == e.Reason
}

var (
	ErrUserNotFound    = &Error{Kind: KindNotFound, Reason: "user not found"}
	ErrProductNotFound = &Error{Kind: KindNotFound, Reason: "product not found"}
	ErrOrderNotFound   = &Error{Kind: KindNotFound, Reason: "order not found"}
	ErrPaymentNotFound = &Error{Kind: KindNotFound, Reason: "payment not found"}
	ErrCouponNotFound  = &Error{Kind: KindNotFound, Reason: "coupon not found"}

	ErrProductInactive    = &Error{Kind: KindInvalidState, Reason: "product is not active"}
	ErrInsufficientStock  = &Error{Kind: KindInvalidState, Reason: "insufficient stock"}
	ErrAlreadyPaid        = &Error{Kind: KindInvalidState, Reason: "order is already paid"}
	ErrAlreadyConfirmed   = &Error{Kind: KindInvalidState, Reason: "order is already confirmed"}
	ErrPaymentFailed      = &Error{Kind: KindInvalidState, Reason: "payment has already failed"}
	ErrNotCashOnDelivery  = &Error{Kind: KindInvalidState, Reason: "payment method is not COD"}
	ErrInvalidTransition  = &Error{Kind: KindInvalidState, Reason: "order status transition not allowed"}
	ErrCouponExhausted    = &Error{Kind: KindInvalidState, Reason: "coupon usage limit reached"}
	ErrRequestInProgress  = &Error{Kind: KindInvalidState, Reason: "a request with this idempotency key is in progress"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Reason: "not allowed to access this order"}
	ErrInvalidSignature   = &Error{Kind: KindInvalidSignature, Reason: "payment signature verification failed"}
	ErrInvalidQuantity    = &Error{Kind: KindInvalidInput, Reason: "quantity must be at least 1"}
	ErrEmptyOrder         = &Error{Kind: KindInvalidInput, Reason: "order must contain at least one item"}
	ErrInvalidStatus      = &Error{Kind: KindInvalidInput, Reason: "unknown order status"}
	ErrInvalidPaymentType = &Error{Kind: KindInvalidInput, Reason: "unknown payment method"}
	ErrInvalidAmount      = &Error{Kind: KindInvalidInput, Reason: "order amount must not be negative"}
	ErrGateway            = &Error{Kind: KindGateway, Reason: "payment gateway request failed"}
)

// detailf copies base and attaches a formatted detail
func detailf(base *Error, format string, args ...interface{}) *Error {
	return &Error{Kind: base.Kind, Reason: base.Reason, Err: fmt.Errorf(format, args...)}
}

func wrap(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Reason: base.Reason, Err: err}
}

func persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Reason: "failed to " + op, Err: err}
}

// classify passes service errors through and reports anything else as a
// persistence failure of op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return persistence(op, err)
}

// KindOf returns the kind of err, or "" when err is not a service error
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
