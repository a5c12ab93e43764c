package service

import (
	"context"
	"errors"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// OrderItemRequest is one requested line of a checkout
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

func resolveUser(ctx context.Context, repo store.UserRepository, email string) (*models.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, detailf(ErrUserNotFound, "empty email")
	}
	user, err := repo.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, detailf(ErrUserNotFound, "email %q", email)
	}
	if err != nil {
		return nil, persistence("load user", err)
	}
	return user, nil
}

// priceItems validates every requested line against the catalog and
// returns unsaved order items carrying the current unit price, plus their
// total. Stock is checked against the summed quantity of each product, so
// repeated lines cannot pass one by one. Any failing line fails the whole
// request.
func priceItems(ctx context.Context, repo store.ProductRepository, ledger *InventoryLedger, reqs []OrderItemRequest) ([]models.OrderItem, int64, error) {
	if len(reqs) == 0 {
		return nil, 0, ErrEmptyOrder
	}

	wanted := make(map[int64]int, len(reqs))
	for _, req := range reqs {
		if req.Quantity < 1 {
			return nil, 0, detailf(ErrInvalidQuantity, "product %d: quantity %d", req.ProductID, req.Quantity)
		}
		wanted[req.ProductID] += req.Quantity
	}

	products := make(map[int64]*models.Product, len(wanted))
	items := make([]models.OrderItem, 0, len(reqs))
	var total int64
	for _, req := range reqs {
		product, ok := products[req.ProductID]
		if !ok {
			var err error
			product, err = ledger.Check(ctx, repo, req.ProductID, wanted[req.ProductID])
			if err != nil {
				return nil, 0, err
			}
			products[req.ProductID] = product
		}

		item := models.OrderItem{
			ProductID:      product.ID,
			Quantity:       req.Quantity,
			UnitPriceCents: product.PriceCents,
		}
		total += item.SubtotalCents()
		items = append(items, item)
	}
	return items, total, nil
}

// persistOrder saves order and then each item bound to its id
func persistOrder(ctx context.Context, repo store.OrderRepository, order *models.Order, items []models.OrderItem) error {
	if err := repo.CreateOrder(ctx, order); err != nil {
		return persistence("create order", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := repo.CreateOrderItem(ctx, &items[i]); err != nil {
			return persistence("create order item", err)
		}
	}
	order.Items = items
	return nil
}

// loadOrder returns the order with its items
func loadOrder(ctx context.Context, repo store.OrderRepository, orderID int64) (*models.Order, error) {
	order, err := repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, detailf(ErrOrderNotFound, "order %d", orderID)
	}
	if err != nil {
		return nil, persistence("load order", err)
	}

	items, err := repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, persistence("load order items", err)
	}
	order.Items = items
	return order, nil
}

func withItems(ctx context.Context, repo store.OrderRepository, orders []models.Order) ([]models.Order, error) {
	for i := range orders {
		items, err := repo.GetOrderItemsByOrderID(ctx, orders[i].ID)
		if err != nil {
			return nil, persistence("load order items", err)
		}
		orders[i].Items = items
	}
	return orders, nil
}

// page converts a zero-based page and size into limit and offset
func page(number, size int) (limit, offset int) {
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	if number < 0 {
		number = 0
	}
	return size, number * size
}

func idempotencyKey(scope string, principal Principal, key string) string {
	if key == "" {
		return ""
	}
	return scope + ":" + strings.ToLower(principal.Email) + ":" + key
}
