package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const idempotencyLockTTL = 30 * time.Second

// idempotency replays the order id recorded for a key instead of running
// the request again. Without a store, or without a key, requests always run.
type idempotency struct {
	store  IdempotencyStore
	ttl    time.Duration
	logger *zap.Logger
}

// do runs fn at most once per key and reports the order id it produced.
// replay is true when the id comes from an earlier run. If the store is
// unreachable the request runs without deduplication.
func (g *idempotency) do(ctx context.Context, key string, fn func() (int64, error)) (orderID int64, replay bool, err error) {
	if g.store == nil || key == "" {
		orderID, err = fn()
		return orderID, false, err
	}

	if id, ok := g.recorded(ctx, key); ok {
		return id, true, nil
	}

	token, locked, err := g.store.AcquireLock(ctx, key, idempotencyLockTTL)
	switch {
	case err != nil:
		g.logger.Warn("Idempotency lock failed", zap.String("key", key), zap.Error(err))
	case !locked:
		return 0, false, ErrRequestInProgress
	default:
		defer func() {
			if err := g.store.ReleaseLock(context.Background(), key, token); err != nil {
				g.logger.Warn("Failed to release idempotency lock", zap.String("key", key), zap.Error(err))
			}
		}()

		// the previous holder may have finished between the first lookup and the lock
		if id, ok := g.recorded(ctx, key); ok {
			return id, true, nil
		}
	}

	orderID, err = fn()
	if err != nil {
		return 0, false, err
	}

	if err := g.store.SetIdempotencyKey(ctx, key, strconv.FormatInt(orderID, 10), g.ttl); err != nil {
		g.logger.Warn("Failed to record idempotency key", zap.String("key", key), zap.Error(err))
	}
	return orderID, false, nil
}

func (g *idempotency) recorded(ctx context.Context, key string) (int64, bool) {
	v, ok, err := g.store.GetIdempotencyKey(ctx, key)
	if err != nil {
		g.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
