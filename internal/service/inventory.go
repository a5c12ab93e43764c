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

// InventoryLedger checks and moves product stock. Callers pass the
// repository of their unit of work so stock changes commit with the order.
type InventoryLedger struct {
	logger *zap.Logger
}

func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{logger: util.GetLogger()}
}

// Check is the read path: the product must exist, be active and hold at
// least quantity units.
func (l *InventoryLedger) Check(ctx context.Context, repo store.ProductRepository, productID int64, quantity int) (*models.Product, error) {
	if quantity < 1 {
		return nil, detailf(ErrInvalidQuantity, "product %d: quantity %d", productID, quantity)
	}

	product, err := repo.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, detailf(ErrProductNotFound, "product %d", productID)
	}
	if err != nil {
		return nil, persistence("load product", err)
	}

	if !product.IsActive {
		return nil, detailf(ErrProductInactive, "product %d", productID)
	}
	if product.Stock < quantity {
		return nil, detailf(ErrInsufficientStock, "product %d: requested %d, available %d", productID, quantity, product.Stock)
	}
	return product, nil
}

// Reserve decrements stock by quantity. The decrement is conditional so
// a concurrent reservation that already took the units makes this one fail
// with ErrInsufficientStock.
func (l *InventoryLedger) Reserve(ctx context.Context, repo store.ProductRepository, productID int64, quantity int) (err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if _, err := l.Check(ctx, repo, productID, quantity); err != nil {
		util.InventoryReservationsFailed.WithLabelValues(failureLabel(err)).Inc()
		return err
	}

	ok, err := repo.DecrementStock(ctx, productID, quantity)
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		return persistence("decrement stock", err)
	}
	if !ok {
		util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return detailf(ErrInsufficientStock, "product %d: requested %d", productID, quantity)
	}

	l.logger.Debug("Stock reserved", zap.Int64("product_id", productID), zap.Int("quantity", quantity))
	return nil
}

// ReserveItems reserves every item or returns the first failure. The
// caller's transaction discards earlier decrements on failure.
func (l *InventoryLedger) ReserveItems(ctx context.Context, repo store.ProductRepository, items []models.OrderItem) error {
	for _, item := range items {
		if err := l.Reserve(ctx, repo, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Release returns quantity units to a product
func (l *InventoryLedger) Release(ctx context.Context, repo store.ProductRepository, productID int64, quantity int) (err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer func() { util.EndSpan(span, err) }()

	if quantity < 1 {
		return detailf(ErrInvalidQuantity, "product %d: quantity %d", productID, quantity)
	}

	err = repo.IncrementStock(ctx, productID, quantity)
	if errors.Is(err, store.ErrNotFound) {
		return detailf(ErrProductNotFound, "product %d", productID)
	}
	if err != nil {
		return persistence("increment stock", err)
	}

	util.InventoryReleasedUnits.Add(float64(quantity))
	l.logger.Info("Stock released", zap.Int64("product_id", productID), zap.Int("quantity", quantity))
	return nil
}

func (l *InventoryLedger) ReleaseItems(ctx context.Context, repo store.ProductRepository, items []models.OrderItem) error {
	for _, item := range items {
		if err := l.Release(ctx, repo, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductInactive):
		return "inactive"
	case errors.Is(err, ErrProductNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
