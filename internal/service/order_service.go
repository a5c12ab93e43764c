package service

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// OrderService builds orders that reserve stock at creation, serves order
// queries and applies admin status changes.
type OrderService struct {
	store  store.Transactor
	ledger *InventoryLedger
	events EventPublisher
	idem   *idempotency
	logger *zap.Logger
}

// NewOrderService creates a new order service. events and idem may be nil.
func NewOrderService(
	st store.Transactor,
	ledger *InventoryLedger,
	events EventPublisher,
	idem IdempotencyStore,
	idemTTL time.Duration,
) *OrderService {
	if events == nil {
		events = noopPublisher{}
	}
	logger := util.GetLogger()
	return &OrderService{
		store:  st,
		ledger: ledger,
		events: events,
		idem:   &idempotency{store: idem, ttl: idemTTL, logger: logger},
		logger: logger,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items           []OrderItemRequest     `json:"items" binding:"required,min=1,dive"`
	ShippingAddress models.ShippingAddress `json:"shipping_address" binding:"required"`
	IdempotencyKey  string                 `json:"-"`
}

// CreateOrder persists a PENDING_PAYMENT order for the principal and
// reserves stock for every item in the same unit of work.
func (s *OrderService) CreateOrder(ctx context.Context, principal Principal, req *CreateOrderRequest) (_ *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer func() { util.EndSpan(span, err) }()

	var created *models.Order
	orderID, replay, err := s.idem.do(ctx, idempotencyKey("orders", principal, req.IdempotencyKey), func() (int64, error) {
		order, err := s.createOrder(ctx, principal, req)
		if err != nil {
			return 0, err
		}
		created = order
		return order.ID, nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}

	if replay {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", orderID))
		return loadOrder(ctx, s.store, orderID)
	}
	return created, nil
}

func (s *OrderService) createOrder(ctx context.Context, principal Principal, req *CreateOrderRequest) (*models.Order, error) {
	user, err := resolveUser(ctx, s.store, principal.Email)
	if err != nil {
		return nil, err
	}

	items, total, err := priceItems(ctx, s.store, s.ledger, req.Items)
	if err != nil {
		return nil, err
	}

	address, err := models.EncodeShippingAddress(req.ShippingAddress)
	if err != nil {
		return nil, persistence("encode shipping address", err)
	}

	order := &models.Order{
		UserID:              user.ID,
		TotalCents:          total,
		Status:              models.OrderStatusPendingPayment,
		ShippingAddressJSON: address,
	}

	err = s.store.InTx(ctx, func(repo store.Repository) error {
		if err := persistOrder(ctx, repo, order, items); err != nil {
			return err
		}
		if err := s.ledger.ReserveItems(ctx, repo, order.Items); err != nil {
			return err
		}
		if err := repo.SetOrderStockReserved(ctx, order.ID, true); err != nil {
			return persistence("mark stock reserved", err)
		}
		order.StockReserved = true
		return nil
	})
	if err != nil {
		return nil, classify("create order", err)
	}

	util.OrdersCreatedTotal.WithLabelValues("direct").Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", user.ID),
		zap.Int64("total_cents", order.TotalCents))

	event := &models.OrderCreatedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalCents: order.TotalCents,
		Items:      models.ItemData(order.Items),
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}

// GetOrder returns one order. Customers may only read their own.
func (s *OrderService) GetOrder(ctx context.Context, principal Principal, orderID int64) (_ *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer func() { util.EndSpan(span, err) }()

	order, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return nil, err
	}
	if principal.IsAdmin() {
		return order, nil
	}

	owner, err := s.store.GetUserByID(ctx, order.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, persistence("load order owner", err)
	}
	if owner == nil || !principal.Owns(owner.Email) {
		return nil, detailf(ErrUnauthorized, "order %d", orderID)
	}
	return order, nil
}

// ListMyOrders returns the principal's orders, newest first
func (s *OrderService) ListMyOrders(ctx context.Context, principal Principal, pageNumber, pageSize int) (_ []models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListMyOrders")
	defer func() { util.EndSpan(span, err) }()

	user, err := resolveUser(ctx, s.store, principal.Email)
	if err != nil {
		return nil, err
	}

	limit, offset := page(pageNumber, pageSize)
	orders, err := s.store.ListOrdersByUserID(ctx, user.ID, limit, offset)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	return withItems(ctx, s.store, orders)
}

// ListOrders returns all orders, optionally filtered by status text
func (s *OrderService) ListOrders(ctx context.Context, principal Principal, statusText string, pageNumber, pageSize int) (_ []models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer func() { util.EndSpan(span, err) }()

	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}

	var status models.OrderStatus
	if statusText != "" {
		parsed, err := models.ParseOrderStatus(statusText)
		if err != nil {
			return nil, wrap(ErrInvalidStatus, err)
		}
		status = parsed
	}

	limit, offset := page(pageNumber, pageSize)
	orders, err := s.store.ListOrders(ctx, status, limit, offset)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	return withItems(ctx, s.store, orders)
}

// UpdateOrderStatus moves an order along the lifecycle. Cancelling or
// refunding an order whose stock is reserved returns that stock, once.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, principal Principal, orderID int64, statusText string) (_ *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer func() { util.EndSpan(span, err) }()

	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}

	next, err := models.ParseOrderStatus(statusText)
	if err != nil {
		return nil, wrap(ErrInvalidStatus, err)
	}

	var (
		updated  *models.Order
		from     models.OrderStatus
		released bool
	)
	err = s.store.InTx(ctx, func(repo store.Repository) error {
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}

		from = order.Status
		if _, err := order.Status.Transition(next); err != nil {
			return wrap(ErrInvalidTransition, err)
		}
		if err := repo.UpdateOrderStatus(ctx, order.ID, next); err != nil {
			return persistence("update order status", err)
		}
		order.Status = next

		if releasesStock(next) && order.StockReserved {
			if err := s.ledger.ReleaseItems(ctx, repo, order.Items); err != nil {
				return err
			}
			if err := repo.SetOrderStockReserved(ctx, order.ID, false); err != nil {
				return persistence("clear stock reserved", err)
			}
			order.StockReserved = false
			released = true
		}

		updated = order
		return nil
	})
	if err != nil {
		return nil, classify("update order status", err)
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(next)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.Bool("stock_released", released))

	event := &models.OrderStatusChangedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:       orderID,
		From:          from,
		To:            next,
		StockReleased: released,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", orderID), zap.Error(err))
	}

	return updated, nil
}

func releasesStock(status models.OrderStatus) bool {
	return status == models.OrderStatusCancelled || status == models.OrderStatusRefunded
}
