package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/store/memory"
	"checkout-service/internal/util"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test_secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCODConfirmed(_ context.Context, e *models.OrderCODConfirmedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// memoryIdempotency stands in for redis
type memoryIdempotency struct {
	mu     sync.Mutex
	values map[string]string
	locks  map[string]string
	tokens int
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{values: map[string]string{}, locks: map[string]string{}}
}

func (m *memoryIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryIdempotency) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value.(string)
	return nil
}

func (m *memoryIdempotency) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	m.tokens++
	token := fmt.Sprintf("token-%d", m.tokens)
	m.locks[key] = token
	return token, true, nil
}

func (m *memoryIdempotency) ReleaseLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

type fixture struct {
	store    *memory.Store
	gateway  *gateway.Sandbox
	events   *recordingPublisher
	idem     *memoryIdempotency
	orders   *OrderService
	payments *PaymentService
	coupons  *CouponService

	user  models.User
	buyer Principal
	admin Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	util.SetLogger(zap.NewNop())

	st := memory.New()
	f := &fixture{
		store:   st,
		gateway: gateway.NewSandbox("key_test", testSecret),
		events:  &recordingPublisher{},
		idem:    newMemoryIdempotency(),
	}

	ledger := NewInventoryLedger()
	f.coupons = NewCouponService(st)
	f.orders = NewOrderService(st, ledger, f.events, f.idem, time.Hour)
	f.payments = NewPaymentService(st, ledger, f.coupons, f.gateway, f.events, f.idem,
		PaymentConfig{Currency: "INR", IdempotencyTTL: time.Hour})

	f.user = st.AddUser(models.User{Email: "buyer@example.com", FullName: "Asha Buyer", Phone: "9000000001"})
	f.buyer = Principal{Email: f.user.Email, Role: RoleCustomer}
	f.admin = Principal{Email: "admin@example.com", Role: RoleAdmin}
	return f
}

func (f *fixture) product(priceCents int64, stock int) models.Product {
	return f.store.AddProduct(models.Product{Name: "Product", PriceCents: priceCents, Stock: stock, IsActive: true})
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.store.GetProductByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) otherCustomer() Principal {
	u := f.store.AddUser(models.User{Email: "other@example.com", FullName: "Other"})
	return Principal{Email: u.Email, Role: RoleCustomer}
}

// welcome10 is 10% off orders from 50000 cents, capped at 10000 cents
func (f *fixture) welcome10(limit int64) models.Coupon {
	now := time.Now()
	c := models.Coupon{
		Code:             "WELCOME10",
		DiscountType:     models.DiscountTypePercentage,
		DiscountValue:    10,
		MinOrderCents:    50000,
		MaxDiscountCents: sql.NullInt64{Int64: 10000, Valid: true},
		ValidFrom:        now.Add(-time.Hour),
		ValidTo:          now.Add(24 * time.Hour),
		IsActive:         true,
	}
	if limit > 0 {
		c.UsageLimit = sql.NullInt64{Int64: limit, Valid: true}
	}
	return f.store.AddCoupon(c)
}

func shippingAddress() models.ShippingAddress {
	return models.ShippingAddress{
		FullName:     "Asha Buyer",
		Email:        "asha@example.com",
		Phone:        "9000000001",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "KA",
		PostalCode:   "560001",
		Country:      "IN",
	}
}

func items(lines ...OrderItemRequest) []OrderItemRequest {
	return lines
}

func line(productID int64, quantity int) OrderItemRequest {
	return OrderItemRequest{ProductID: productID, Quantity: quantity}
}
