package service

import (
	"context"
	"strings"
	"time"

	"checkout-service/internal/models"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// Principal is the authenticated caller. Operations that depend on who is
// asking take it explicitly.
type Principal struct {
	Email string
	Role  Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Owns reports whether the principal is the user with the given email
func (p Principal) Owns(email string) bool {
	return p.Email != "" && strings.EqualFold(p.Email, email)
}

// EventPublisher receives domain events after the owning transaction commits
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCODConfirmed(ctx context.Context, event *models.OrderCODConfirmedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// IdempotencyStore remembers completed checkout requests and guards
// in-flight ones.
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// AcquireLock returns a token identifying this holder. Only the
	// matching token releases the lock.
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error {
	return nil
}

func (noopPublisher) PublishOrderCODConfirmed(context.Context, *models.OrderCODConfirmedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}
