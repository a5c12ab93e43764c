package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_ReservesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.product(2500, 10)
	mug := f.product(1000, 5)

	order, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{
		Items:           items(line(lamp.ID, 2), line(mug.ID, 3)),
		ShippingAddress: shippingAddress(),
	})
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, f.user.ID, order.UserID)
	assert.Equal(t, models.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, int64(8000), order.TotalCents)
	assert.Zero(t, order.DiscountCents)
	assert.False(t, order.CouponID.Valid)
	assert.True(t, order.StockReserved)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(2500), order.Items[0].UnitPriceCents)
	assert.Equal(t, order.TotalCents+order.DiscountCents, order.SubtotalCents())

	assert.Equal(t, 8, f.stock(t, lamp.ID))
	assert.Equal(t, 2, f.stock(t, mug.ID))

	addr, err := models.DecodeShippingAddress(order.ShippingAddressJSON)
	require.NoError(t, err)
	assert.Equal(t, shippingAddress(), addr)

	stored, err := f.orders.GetOrder(ctx, f.buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalCents, stored.TotalCents)
	assert.Len(t, stored.Items, 2)

	assert.Equal(t, 1, f.events.count(models.EventTypeOrderCreated))
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(2500, 3)

	_, err := f.orders.CreateOrder(context.Background(), f.buyer, &CreateOrderRequest{
		Items:           items(line(p.ID, 5)),
		ShippingAddress: shippingAddress(),
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, KindInvalidState, KindOf(err))

	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 3, f.stock(t, p.ID))
}

func TestCreateOrder_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ok := f.product(1000, 10)
	inactive := f.store.AddProduct(models.Product{Name: "Retired", PriceCents: 500, Stock: 10, IsActive: false})

	_, err := f.orders.CreateOrder(context.Background(), f.buyer, &CreateOrderRequest{
		Items:           items(line(ok.ID, 1), line(inactive.ID, 1)),
		ShippingAddress: shippingAddress(),
	})
	assert.ErrorIs(t, err, ErrProductInactive)
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 10, f.stock(t, ok.ID))
}

func TestCreateOrder_RepeatedProductRollsBack(t *testing.T) {
	f := newFixture(t)
	p := f.product(1000, 3)

	// each line fits on its own, together they do not
	_, err := f.orders.CreateOrder(context.Background(), f.buyer, &CreateOrderRequest{
		Items:           items(line(p.ID, 2), line(p.ID, 2)),
		ShippingAddress: shippingAddress(),
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 3, f.stock(t, p.ID))
}

func TestCreateOrder_Errors(t *testing.T) {
	f := newFixture(t)
	p := f.product(1000, 3)

	tests := []struct {
		name      string
		principal Principal
		items     []OrderItemRequest
		want      error
		kind      Kind
	}{
		{"unknown user", Principal{Email: "ghost@example.com"}, items(line(p.ID, 1)), ErrUserNotFound, KindNotFound},
		{"unknown product", f.buyer, items(line(9999, 1)), ErrProductNotFound, KindNotFound},
		{"no items", f.buyer, nil, ErrEmptyOrder, KindInvalidInput},
		{"zero quantity", f.buyer, items(line(p.ID, 0)), ErrInvalidQuantity, KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateOrder(context.Background(), tt.principal, &CreateOrderRequest{
				Items:           tt.items,
				ShippingAddress: shippingAddress(),
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
	assert.Equal(t, 0, f.store.OrderCount())
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)
	req := &CreateOrderRequest{Items: items(line(p.ID, 2)), ShippingAddress: shippingAddress(), IdempotencyKey: "k-1"}

	first, err := f.orders.CreateOrder(ctx, f.buyer, req)
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(ctx, f.buyer, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, 8, f.stock(t, p.ID))
}

func TestCreateOrder_InFlightDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	_, locked, err := f.idem.AcquireLock(ctx, "orders:buyer@example.com:k-2", 0)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{
		Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress(), IdempotencyKey: "k-2",
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
	assert.Equal(t, 10, f.stock(t, p.ID))
}

// staleLookupStore makes the first lookup observe a miss, then holds it
// until release is closed.
type staleLookupStore struct {
	*memoryIdempotency
	once    sync.Once
	missed  chan struct{}
	release chan struct{}
}

func (s *staleLookupStore) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	first := false
	s.once.Do(func() { first = true })
	if !first {
		return s.memoryIdempotency.GetIdempotencyKey(ctx, key)
	}

	v, ok, err := s.memoryIdempotency.GetIdempotencyKey(ctx, key)
	close(s.missed)
	<-s.release
	return v, ok, err
}

func TestCreateOrder_IdempotencyKeyRecheckedUnderLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	idem := &staleLookupStore{
		memoryIdempotency: newMemoryIdempotency(),
		missed:            make(chan struct{}),
		release:           make(chan struct{}),
	}
	orders := NewOrderService(f.store, NewInventoryLedger(), f.events, idem, time.Hour)
	req := func() *CreateOrderRequest {
		return &CreateOrderRequest{Items: items(line(p.ID, 2)), ShippingAddress: shippingAddress(), IdempotencyKey: "k-3"}
	}

	type result struct {
		order *models.Order
		err   error
	}
	late := make(chan result, 1)
	go func() {
		order, err := orders.CreateOrder(ctx, f.buyer, req())
		late <- result{order, err}
	}()

	<-idem.missed
	first, err := orders.CreateOrder(ctx, f.buyer, req())
	require.NoError(t, err)
	close(idem.release)

	second := <-late
	require.NoError(t, second.err)
	assert.Equal(t, first.ID, second.order.ID)
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, 8, f.stock(t, p.ID))
}

func TestConcurrentOrdersNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	const (
		stock    = 10
		quantity = 3
		buyers   = 8
	)
	p := f.product(1000, stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.CreateOrder(context.Background(), f.buyer, &CreateOrderRequest{
				Items: items(line(p.ID, quantity)), ShippingAddress: shippingAddress(),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			succeeded++
		}()
	}
	wg.Wait()

	remaining := f.stock(t, p.ID)
	assert.GreaterOrEqual(t, remaining, 0)
	assert.Equal(t, stock, remaining+succeeded*quantity)
	assert.Equal(t, stock/quantity, succeeded)
	assert.Equal(t, succeeded, f.store.OrderCount())
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
}

func TestLedgerReserve_StaleReadsCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	ledger := NewInventoryLedger()
	p := f.product(1000, 7)

	// every goroutine checks against the store outside a transaction, so
	// several can pass the read path with the same stale stock
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Reserve(context.Background(), f.store, p.ID, 2)
			if err != nil {
				assert.True(t, errors.Is(err, ErrInsufficientStock))
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 1, f.stock(t, p.ID))
}

func TestLedgerRelease(t *testing.T) {
	f := newFixture(t)
	ledger := NewInventoryLedger()
	p := f.product(1000, 1)

	require.NoError(t, ledger.Release(context.Background(), f.store, p.ID, 4))
	assert.Equal(t, 5, f.stock(t, p.ID))

	assert.ErrorIs(t, ledger.Release(context.Background(), f.store, 9999, 1), ErrProductNotFound)
	assert.ErrorIs(t, ledger.Release(context.Background(), f.store, p.ID, 0), ErrInvalidQuantity)
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	order, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, f.otherCustomer(), order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	got, err := f.orders.GetOrder(ctx, f.admin, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// email match is case-insensitive
	_, err = f.orders.GetOrder(ctx, Principal{Email: "BUYER@example.com"}, order.ID)
	assert.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, f.buyer, 424242)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListMyOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)
	other := f.otherCustomer()

	var ids []int64
	for i := 0; i < 3; i++ {
		o, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	_, err := f.orders.CreateOrder(ctx, other, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)

	mine, err := f.orders.ListMyOrders(ctx, f.buyer, 0, 10)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, ids[2], mine[0].ID)
	assert.Len(t, mine[0].Items, 1)

	second, err := f.orders.ListMyOrders(ctx, f.buyer, 1, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, ids[0], second[0].ID)
}

func TestListOrders_Admin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	_, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)

	pending, err := f.orders.ListOrders(ctx, f.admin, "pending_payment", 0, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	paid, err := f.orders.ListOrders(ctx, f.admin, "PAID", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, paid)

	_, err = f.orders.ListOrders(ctx, f.admin, "LOST", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.orders.ListOrders(ctx, f.buyer, "", 0, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateOrderStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	order, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 2)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)

	steps := []struct {
		status string
		want   models.OrderStatus
		err    error
	}{
		{"SHIPPED", models.OrderStatusPendingPayment, ErrInvalidTransition},
		{"processing", models.OrderStatusProcessing, nil},
		{"shipped", models.OrderStatusShipped, nil},
		{"PENDING_PAYMENT", models.OrderStatusShipped, ErrInvalidTransition},
		{"delivered", models.OrderStatusDelivered, nil},
		{"teleported", models.OrderStatusDelivered, ErrInvalidStatus},
	}
	for _, step := range steps {
		_, err := f.orders.UpdateOrderStatus(ctx, f.admin, order.ID, step.status)
		if step.err != nil {
			assert.ErrorIs(t, err, step.err, step.status)
		} else {
			assert.NoError(t, err, step.status)
		}
		got, err := f.orders.GetOrder(ctx, f.admin, order.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status, step.status)
	}
	assert.Equal(t, 8, f.stock(t, p.ID))
	assert.Equal(t, 3, f.events.count(models.EventTypeOrderStatusChanged))
}

func TestUpdateOrderStatus_CancelReleasesStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	order, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 4)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)
	require.Equal(t, 6, f.stock(t, p.ID))

	cancelled, err := f.orders.UpdateOrderStatus(ctx, f.admin, order.ID, "CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.StockReserved)
	assert.Equal(t, 10, f.stock(t, p.ID))

	// terminal
	_, err = f.orders.UpdateOrderStatus(ctx, f.admin, order.ID, "REFUNDED")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 10, f.stock(t, p.ID))
}

func TestUpdateOrderStatus_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 10)

	order, err := f.orders.CreateOrder(ctx, f.buyer, &CreateOrderRequest{Items: items(line(p.ID, 1)), ShippingAddress: shippingAddress()})
	require.NoError(t, err)

	_, err = f.orders.UpdateOrderStatus(ctx, f.buyer, order.ID, "CANCELLED")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.orders.UpdateOrderStatus(ctx, f.admin, 424242, "CANCELLED")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
