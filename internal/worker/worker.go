package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentFailureHandler settles failed gateway payments
type PaymentFailureHandler interface {
	HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// PaymentFailureWorker consumes gateway events and marks failed payments
type PaymentFailureWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentFailureWorker creates a new payment failure worker
func NewPaymentFailureWorker(consumer *broker.Consumer, payments PaymentFailureHandler) *PaymentFailureWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentFailed(payments.HandlePaymentFailed)

	return &PaymentFailureWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *PaymentFailureWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment failure worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentFailureWorker) Stop() error {
	w.logger.Info("Stopping payment failure worker")
	return w.consumer.Close()
}
