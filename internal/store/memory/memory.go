// Package memory is an in-process implementation of the store contracts.
// Transactions are serialized and applied copy-on-write.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

type redemptionKey struct {
	couponID int64
	orderID  int64
}

type state struct {
	nextID      int64
	users       map[int64]models.User
	products    map[int64]models.Product
	coupons     map[int64]models.Coupon
	orders      map[int64]models.Order
	items       map[int64][]models.OrderItem
	payments    map[int64]models.Payment
	redemptions map[redemptionKey]struct{}
	events      map[string]string
}

func newState() *state {
	return &state{
		users:       make(map[int64]models.User),
		products:    make(map[int64]models.Product),
		coupons:     make(map[int64]models.Coupon),
		orders:      make(map[int64]models.Order),
		items:       make(map[int64][]models.OrderItem),
		payments:    make(map[int64]models.Payment),
		redemptions: make(map[redemptionKey]struct{}),
		events:      make(map[string]string),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.nextID = st.nextID
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.coupons {
		c.coupons[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k := range st.redemptions {
		c.redemptions[k] = struct{}{}
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	return c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Transactor = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a private copy of the data and publishes the copy
// only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(repo store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	if err := fn(&view{st: draft}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *Store) run(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{st: s.st})
}

// AddUser seeds a user and returns it with its assigned ID
func (s *Store) AddUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.st.id()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.st.users[u.ID] = u
	return u
}

// AddProduct seeds a product and returns it with its assigned ID
func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.st.id()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.products[p.ID] = p
	return p
}

// AddCoupon seeds a coupon and returns it with its assigned ID
func (s *Store) AddCoupon(c models.Coupon) models.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.st.id()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	s.st.coupons[c.ID] = c
	return c
}

// Coupon returns the current copy of a coupon, for assertions
func (s *Store) Coupon(id int64) (models.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.coupons[id]
	return c, ok
}

// OrderCount returns the number of persisted orders
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (u *models.User, err error) {
	err = s.run(func(v *view) error { u, err = v.GetUserByID(ctx, id); return err })
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (u *models.User, err error) {
	err = s.run(func(v *view) error { u, err = v.GetUserByEmail(ctx, email); return err })
	return u, err
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (p *models.Product, err error) {
	err = s.run(func(v *view) error { p, err = v.GetProductByID(ctx, id); return err })
	return p, err
}

func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) (ok bool, err error) {
	err = s.run(func(v *view) error { ok, err = v.DecrementStock(ctx, productID, quantity); return err })
	return ok, err
}

func (s *Store) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	return s.run(func(v *view) error { return v.IncrementStock(ctx, productID, quantity) })
}

func (s *Store) GetActiveCouponByCode(ctx context.Context, code string) (c *models.Coupon, err error) {
	err = s.run(func(v *view) error { c, err = v.GetActiveCouponByCode(ctx, code); return err })
	return c, err
}

func (s *Store) RedeemCoupon(ctx context.Context, couponID, orderID int64) (ok bool, err error) {
	err = s.InTx(ctx, func(repo store.Repository) error {
		ok, err = repo.RedeemCoupon(ctx, couponID, orderID)
		return err
	})
	return ok, err
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.run(func(v *view) error { return v.CreateOrder(ctx, order) })
}

func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	return s.run(func(v *view) error { return v.CreateOrderItem(ctx, item) })
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (o *models.Order, err error) {
	err = s.run(func(v *view) error { o, err = v.GetOrderByID(ctx, id); return err })
	return o, err
}

func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) (items []models.OrderItem, err error) {
	err = s.run(func(v *view) error { items, err = v.GetOrderItemsByOrderID(ctx, orderID); return err })
	return items, err
}

func (s *Store) ListOrdersByUserID(ctx context.Context, userID int64, limit, offset int) (orders []models.Order, err error) {
	err = s.run(func(v *view) error { orders, err = v.ListOrdersByUserID(ctx, userID, limit, offset); return err })
	return orders, err
}

func (s *Store) ListOrders(ctx context.Context, status models.OrderStatus, limit, offset int) (orders []models.Order, err error) {
	err = s.run(func(v *view) error { orders, err = v.ListOrders(ctx, status, limit, offset); return err })
	return orders, err
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	return s.run(func(v *view) error { return v.UpdateOrderStatus(ctx, orderID, status) })
}

func (s *Store) SetOrderStockReserved(ctx context.Context, orderID int64, reserved bool) error {
	return s.run(func(v *view) error { return v.SetOrderStockReserved(ctx, orderID, reserved) })
}

func (s *Store) SetOrderPaymentIntent(ctx context.Context, orderID int64, intentID string) error {
	return s.run(func(v *view) error { return v.SetOrderPaymentIntent(ctx, orderID, intentID) })
}

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return s.run(func(v *view) error { return v.CreatePayment(ctx, payment) })
}

func (s *Store) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (p *models.Payment, err error) {
	err = s.run(func(v *view) error { p, err = v.GetPaymentByGatewayOrderID(ctx, gatewayOrderID); return err })
	return p, err
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (p *models.Payment, err error) {
	err = s.run(func(v *view) error { p, err = v.GetPaymentByOrderID(ctx, orderID); return err })
	return p, err
}

func (s *Store) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	return s.run(func(v *view) error { return v.UpdatePayment(ctx, payment) })
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (ok bool, err error) {
	err = s.run(func(v *view) error { ok, err = v.IsEventProcessed(ctx, eventID); return err })
	return ok, err
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	return s.run(func(v *view) error { return v.MarkEventProcessed(ctx, eventID, eventType) })
}

// view operates on a state without locking; the owner holds the lock
type view struct {
	st *state
}

func (v *view) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (v *view) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range v.st.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (v *view) DecrementStock(_ context.Context, productID int64, quantity int) (bool, error) {
	p, ok := v.st.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	p.UpdatedAt = time.Now().UTC()
	v.st.products[productID] = p
	return true, nil
}

func (v *view) IncrementStock(_ context.Context, productID int64, quantity int) error {
	p, ok := v.st.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += quantity
	p.UpdatedAt = time.Now().UTC()
	v.st.products[productID] = p
	return nil
}

func (v *view) GetActiveCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	for _, c := range v.st.coupons {
		if c.Code == code && c.IsActive {
			c := c
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) RedeemCoupon(_ context.Context, couponID, orderID int64) (bool, error) {
	key := redemptionKey{couponID: couponID, orderID: orderID}
	if _, done := v.st.redemptions[key]; done {
		return false, nil
	}
	c, ok := v.st.coupons[couponID]
	if !ok {
		return false, store.ErrNotFound
	}
	if c.UsageLimit.Valid && c.UsedCount >= c.UsageLimit.Int64 {
		return false, store.ErrUsageLimitReached
	}
	c.UsedCount++
	c.UpdatedAt = time.Now().UTC()
	v.st.coupons[couponID] = c
	v.st.redemptions[key] = struct{}{}
	return true, nil
}

func (v *view) CreateOrder(_ context.Context, order *models.Order) error {
	if _, ok := v.st.users[order.UserID]; !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	order.ID = v.st.id()
	order.CreatedAt, order.UpdatedAt = now, now

	stored := *order
	stored.Items = nil
	v.st.orders[order.ID] = stored
	return nil
}

func (v *view) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	if _, ok := v.st.orders[item.OrderID]; !ok {
		return store.ErrNotFound
	}
	item.ID = v.st.id()
	v.st.items[item.OrderID] = append(v.st.items[item.OrderID], *item)
	return nil
}

func (v *view) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	o, ok := v.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (v *view) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	return append([]models.OrderItem{}, v.st.items[orderID]...), nil
}

func (v *view) ListOrdersByUserID(_ context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	return v.list(func(o models.Order) bool { return o.UserID == userID }, limit, offset), nil
}

func (v *view) ListOrders(_ context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error) {
	return v.list(func(o models.Order) bool { return status == "" || o.Status == status }, limit, offset), nil
}

func (v *view) list(match func(models.Order) bool, limit, offset int) []models.Order {
	orders := []models.Order{}
	for _, o := range v.st.orders {
		if match(o) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})

	if offset >= len(orders) {
		return []models.Order{}
	}
	orders = orders[offset:]
	if limit >= 0 && limit < len(orders) {
		orders = orders[:limit]
	}
	return orders
}

func (v *view) updateOrder(orderID int64, fn func(o *models.Order)) error {
	o, ok := v.st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	fn(&o)
	o.UpdatedAt = time.Now().UTC()
	v.st.orders[orderID] = o
	return nil
}

func (v *view) UpdateOrderStatus(_ context.Context, orderID int64, status models.OrderStatus) error {
	return v.updateOrder(orderID, func(o *models.Order) { o.Status = status })
}

func (v *view) SetOrderStockReserved(_ context.Context, orderID int64, reserved bool) error {
	return v.updateOrder(orderID, func(o *models.Order) { o.StockReserved = reserved })
}

func (v *view) SetOrderPaymentIntent(_ context.Context, orderID int64, intentID string) error {
	return v.updateOrder(orderID, func(o *models.Order) {
		o.PaymentIntentID.String, o.PaymentIntentID.Valid = intentID, true
	})
}

func (v *view) CreatePayment(_ context.Context, payment *models.Payment) error {
	if _, ok := v.st.orders[payment.OrderID]; !ok {
		return store.ErrNotFound
	}
	for _, p := range v.st.payments {
		if p.OrderID == payment.OrderID {
			return store.ErrConflict
		}
	}
	now := time.Now().UTC()
	payment.ID = v.st.id()
	payment.CreatedAt, payment.UpdatedAt = now, now
	v.st.payments[payment.ID] = *payment
	return nil
}

func (v *view) GetPaymentByGatewayOrderID(_ context.Context, gatewayOrderID string) (*models.Payment, error) {
	for _, p := range v.st.payments {
		if p.GatewayOrderID.Valid && p.GatewayOrderID.String == gatewayOrderID {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	for _, p := range v.st.payments {
		if p.OrderID == orderID {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v *view) UpdatePayment(_ context.Context, payment *models.Payment) error {
	stored, ok := v.st.payments[payment.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.Status = payment.Status
	stored.GatewayPaymentID = payment.GatewayPaymentID
	stored.GatewaySignature = payment.GatewaySignature
	stored.FailureReason = payment.FailureReason
	stored.PaidAt = payment.PaidAt
	stored.UpdatedAt = time.Now().UTC()
	v.st.payments[payment.ID] = stored
	return nil
}

func (v *view) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := v.st.events[eventID]
	return ok, nil
}

func (v *view) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	v.st.events[eventID] = eventType
	return nil
}
