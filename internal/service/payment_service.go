package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const DefaultCurrency = "INR"

type PaymentConfig struct {
	Currency       string
	IdempotencyTTL time.Duration
}

// PaymentService runs the gateway and cash-on-delivery checkout. Stock is
// reserved when the payment is verified or the COD order is confirmed, not
// when the order is created.
type PaymentService struct {
	store    store.Transactor
	ledger   *InventoryLedger
	coupons  *CouponService
	gateway  gateway.Gateway
	events   EventPublisher
	idem     *idempotency
	currency string
	now      func() time.Time
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service. events and idem may be nil.
func NewPaymentService(
	st store.Transactor,
	ledger *InventoryLedger,
	coupons *CouponService,
	gw gateway.Gateway,
	events EventPublisher,
	idem IdempotencyStore,
	cfg PaymentConfig,
) *PaymentService {
	if events == nil {
		events = noopPublisher{}
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	logger := util.GetLogger()
	return &PaymentService{
		store:    st,
		ledger:   ledger,
		coupons:  coupons,
		gateway:  gw,
		events:   events,
		idem:     &idempotency{store: idem, ttl: cfg.IdempotencyTTL, logger: logger},
		currency: cfg.Currency,
		now:      time.Now,
		logger:   logger,
	}
}

// CreatePaymentOrderRequest represents a checkout through the payment flow
type CreatePaymentOrderRequest struct {
	Items           []OrderItemRequest     `json:"items" binding:"required,min=1,dive"`
	ShippingAddress models.ShippingAddress `json:"shipping_address" binding:"required"`
	CouponCode      string                 `json:"coupon_code,omitempty"`
	PaymentMethod   string                 `json:"payment_method" binding:"required"`
	IdempotencyKey  string                 `json:"-"`
}

// PaymentOrderResponse is what the client needs to open the gateway
// checkout. GatewayOrderID is nil for cash on delivery.
type PaymentOrderResponse struct {
	GatewayOrderID *string              `json:"gateway_order_id"`
	KeyID          string               `json:"key_id"`
	AmountCents    int64                `json:"amount_cents"`
	DiscountCents  int64                `json:"discount_cents"`
	Currency       string               `json:"currency"`
	OrderID        int64                `json:"order_id"`
	PaymentMethod  models.PaymentMethod `json:"payment_method"`
	CustomerName   string               `json:"customer_name"`
	CustomerEmail  string               `json:"customer_email"`
	CustomerPhone  string               `json:"customer_phone"`
}

// VerifyPaymentRequest carries the gateway callback
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	GatewaySignature string `json:"gateway_signature" binding:"required"`
}

// Receipt is the gateway receipt for an order
func Receipt(orderID int64) string {
	return fmt.Sprintf("order_%d", orderID)
}

// CreatePaymentOrder persists a PENDING_PAYMENT order with its payment.
// An unusable coupon code is ignored. Stock is checked but not reserved.
func (s *PaymentService) CreatePaymentOrder(ctx context.Context, principal Principal, req *CreatePaymentOrderRequest) (_ *PaymentOrderResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentOrder")
	defer func() { util.EndSpan(span, err) }()

	method, err := models.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, wrap(ErrInvalidPaymentType, err)
	}

	var created *PaymentOrderResponse
	orderID, replay, err := s.idem.do(ctx, idempotencyKey("payments", principal, req.IdempotencyKey), func() (int64, error) {
		resp, err := s.createPaymentOrder(ctx, principal, method, req)
		if err != nil {
			return 0, err
		}
		created = resp
		return resp.OrderID, nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}

	if replay {
		s.logger.Info("Duplicate payment order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", orderID))
		return s.paymentHandle(ctx, orderID)
	}
	return created, nil
}

func (s *PaymentService) createPaymentOrder(ctx context.Context, principal Principal, method models.PaymentMethod, req *CreatePaymentOrderRequest) (*PaymentOrderResponse, error) {
	user, err := resolveUser(ctx, s.store, principal.Email)
	if err != nil {
		return nil, err
	}

	items, total, err := priceItems(ctx, s.store, s.ledger, req.Items)
	if err != nil {
		return nil, err
	}

	applied, discount := s.coupons.Apply(ctx, req.CouponCode, total)
	final := total - discount

	address, err := models.EncodeShippingAddress(req.ShippingAddress)
	if err != nil {
		return nil, persistence("encode shipping address", err)
	}

	order := &models.Order{
		UserID:              user.ID,
		TotalCents:          final,
		DiscountCents:       discount,
		Status:              models.OrderStatusPendingPayment,
		ShippingAddressJSON: address,
	}
	if applied != nil {
		order.CouponID = sql.NullInt64{Int64: applied.ID, Valid: true}
	}
	payment := &models.Payment{
		AmountCents: final,
		Method:      method,
		Status:      models.PaymentStatusPending,
	}

	err = s.store.InTx(ctx, func(repo store.Repository) error {
		if err := persistOrder(ctx, repo, order, items); err != nil {
			return err
		}

		if method != models.PaymentMethodCOD {
			intent, err := s.gateway.CreateIntent(ctx, final, s.currency, Receipt(order.ID))
			if err != nil {
				return wrap(ErrGateway, err)
			}
			if err := repo.SetOrderPaymentIntent(ctx, order.ID, intent.ID); err != nil {
				return persistence("store payment intent", err)
			}
			order.PaymentIntentID = sql.NullString{String: intent.ID, Valid: true}
			payment.GatewayOrderID = sql.NullString{String: intent.ID, Valid: true}
		}

		payment.OrderID = order.ID
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return persistence("create payment", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrGateway) {
			s.logger.Error("Payment gateway intent failed", zap.Int64("total_cents", final), zap.Error(err))
		}
		return nil, classify("create payment order", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(flowLabel(method)).Inc()
	s.logger.Info("Payment order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("method", string(method)),
		zap.Int64("amount_cents", final),
		zap.Int64("discount_cents", discount))

	// usage is recorded after the order commits; a failure here keeps the order
	if applied != nil {
		if _, err := s.coupons.AttachCoupon(ctx, applied.ID, order.ID); err != nil {
			s.logger.Error("Failed to record coupon usage",
				zap.String("coupon_code", applied.Code),
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalCents:    order.TotalCents,
		DiscountCents: order.DiscountCents,
		PaymentMethod: method,
		Items:         models.ItemData(order.Items),
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return s.handle(order, payment, user, req.ShippingAddress), nil
}

// paymentHandle rebuilds the response for an existing order
func (s *PaymentService) paymentHandle(ctx context.Context, orderID int64) (*PaymentOrderResponse, error) {
	order, err := loadOrder(ctx, s.store, orderID)
	if err != nil {
		return nil, err
	}
	payment, err := s.store.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, detailf(ErrPaymentNotFound, "order %d", orderID)
	}
	if err != nil {
		return nil, persistence("load payment", err)
	}
	user, err := s.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		return nil, persistence("load user", err)
	}
	address, err := models.DecodeShippingAddress(order.ShippingAddressJSON)
	if err != nil {
		return nil, persistence("decode shipping address", err)
	}
	return s.handle(order, payment, user, address), nil
}

func (s *PaymentService) handle(order *models.Order, payment *models.Payment, user *models.User, address models.ShippingAddress) *PaymentOrderResponse {
	resp := &PaymentOrderResponse{
		KeyID:         s.gateway.KeyID(),
		AmountCents:   order.TotalCents,
		DiscountCents: order.DiscountCents,
		Currency:      s.currency,
		OrderID:       order.ID,
		PaymentMethod: payment.Method,
		CustomerName:  address.FullName,
		CustomerEmail: address.Email,
		CustomerPhone: address.Phone,
	}
	if payment.GatewayOrderID.Valid {
		id := payment.GatewayOrderID.String
		resp.GatewayOrderID = &id
	}
	if resp.CustomerEmail == "" {
		resp.CustomerEmail = user.Email
	}
	if resp.CustomerPhone == "" {
		resp.CustomerPhone = user.Phone
	}
	return resp
}

// VerifyPayment applies a gateway success callback. The signature is
// checked before anything is read. A callback for an already successful
// payment returns the current order and changes nothing.
func (s *PaymentService) VerifyPayment(ctx context.Context, req *VerifyPaymentRequest) (_ *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer func() { util.EndSpan(span, err) }()

	if !s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature) {
		util.PaymentVerificationsTotal.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("Payment signature rejected", zap.String("gateway_order_id", req.GatewayOrderID))
		return nil, ErrInvalidSignature
	}

	var (
		order    *models.Order
		payment  *models.Payment
		replay   bool
		orphaned error
	)
	err = s.store.InTx(ctx, func(repo store.Repository) error {
		p, err := repo.GetPaymentByGatewayOrderID(ctx, req.GatewayOrderID)
		if errors.Is(err, store.ErrNotFound) {
			return detailf(ErrPaymentNotFound, "gateway order %s", req.GatewayOrderID)
		}
		if err != nil {
			return persistence("load payment", err)
		}

		switch p.Status {
		case models.PaymentStatusSuccess:
			replay = true
			order, err = loadOrder(ctx, repo, p.OrderID)
			return err
		case models.PaymentStatusFailed:
			return detailf(ErrPaymentFailed, "payment %d", p.ID)
		}

		o, err := loadOrder(ctx, repo, p.OrderID)
		if err != nil {
			return err
		}
		if o.Status == models.OrderStatusPaid {
			return detailf(ErrAlreadyPaid, "order %d", o.ID)
		}
		if _, terr := o.Status.Transition(models.OrderStatusPaid); terr != nil {
			// the gateway already holds the money; keep its ids for a refund
			p.GatewayPaymentID = sql.NullString{String: req.GatewayPaymentID, Valid: true}
			p.GatewaySignature = sql.NullString{String: req.GatewaySignature, Valid: true}
			p.FailureReason = sql.NullString{String: fmt.Sprintf("captured after order became %s", o.Status), Valid: true}
			if err := repo.UpdatePayment(ctx, p); err != nil {
				return persistence("record orphaned capture", err)
			}
			order, orphaned = o, wrap(ErrInvalidTransition, terr)
			return nil
		}

		p.Status = models.PaymentStatusSuccess
		p.GatewayPaymentID = sql.NullString{String: req.GatewayPaymentID, Valid: true}
		p.GatewaySignature = sql.NullString{String: req.GatewaySignature, Valid: true}
		p.PaidAt = sql.NullTime{Time: s.now().UTC(), Valid: true}
		if err := repo.UpdatePayment(ctx, p); err != nil {
			return persistence("update payment", err)
		}

		if err := repo.UpdateOrderStatus(ctx, o.ID, models.OrderStatusPaid); err != nil {
			return persistence("update order status", err)
		}
		o.Status = models.OrderStatusPaid

		if err := s.ledger.ReserveItems(ctx, repo, o.Items); err != nil {
			return err
		}
		if err := repo.SetOrderStockReserved(ctx, o.ID, true); err != nil {
			return persistence("mark stock reserved", err)
		}
		o.StockReserved = true

		order, payment = o, p
		return nil
	})
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues(failureLabel(err)).Inc()
		return nil, classify("verify payment", err)
	}

	if orphaned != nil {
		util.PaymentVerificationsTotal.WithLabelValues(failureLabel(orphaned)).Inc()
		s.logger.Error("Payment captured for an order that cannot be paid",
			zap.Int64("order_id", order.ID),
			zap.String("order_status", string(order.Status)),
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("gateway_payment_id", req.GatewayPaymentID))
		return nil, orphaned
	}

	if replay {
		util.PaymentVerificationsTotal.WithLabelValues("replay").Inc()
		s.logger.Info("Payment already verified", zap.String("gateway_order_id", req.GatewayOrderID))
		return order, nil
	}

	util.PaymentVerificationsTotal.WithLabelValues("success").Inc()
	util.OrdersPaidTotal.Inc()
	s.logger.Info("Payment verified",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("gateway_payment_id", req.GatewayPaymentID))

	event := &models.OrderPaidEvent{
		BaseEvent:        models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:          order.ID,
		PaymentID:        payment.ID,
		AmountCents:      payment.AmountCents,
		GatewayPaymentID: req.GatewayPaymentID,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}

// ConfirmCODOrder moves the principal's cash-on-delivery order to
// PROCESSING and reserves its stock. The payment stays PENDING until
// delivery.
func (s *PaymentService) ConfirmCODOrder(ctx context.Context, principal Principal, orderID int64) (_ *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmCODOrder")
	defer func() { util.EndSpan(span, err) }()

	var order *models.Order
	err = s.store.InTx(ctx, func(repo store.Repository) error {
		o, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}

		owner, err := repo.GetUserByID(ctx, o.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return persistence("load order owner", err)
		}
		if owner == nil || !principal.Owns(owner.Email) {
			return detailf(ErrUnauthorized, "order %d", orderID)
		}

		p, err := repo.GetPaymentByOrderID(ctx, o.ID)
		if errors.Is(err, store.ErrNotFound) {
			return detailf(ErrPaymentNotFound, "order %d", orderID)
		}
		if err != nil {
			return persistence("load payment", err)
		}
		if p.Method != models.PaymentMethodCOD {
			return detailf(ErrNotCashOnDelivery, "order %d uses %s", orderID, p.Method)
		}
		if o.Status != models.OrderStatusPendingPayment {
			return detailf(ErrAlreadyConfirmed, "order %d is %s", orderID, o.Status)
		}
		if _, err := o.Status.Transition(models.OrderStatusProcessing); err != nil {
			return wrap(ErrInvalidTransition, err)
		}

		if err := repo.UpdateOrderStatus(ctx, o.ID, models.OrderStatusProcessing); err != nil {
			return persistence("update order status", err)
		}
		o.Status = models.OrderStatusProcessing

		if err := s.ledger.ReserveItems(ctx, repo, o.Items); err != nil {
			return err
		}
		if err := repo.SetOrderStockReserved(ctx, o.ID, true); err != nil {
			return persistence("mark stock reserved", err)
		}
		o.StockReserved = true

		order = o
		return nil
	})
	if err != nil {
		return nil, classify("confirm COD order", err)
	}

	util.OrdersCODConfirmedTotal.Inc()
	s.logger.Info("COD order confirmed", zap.Int64("order_id", order.ID))

	event := &models.OrderCODConfirmedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCODConfirmed),
		OrderID:   order.ID,
		UserID:    order.UserID,
	}
	if err := s.events.PublishOrderCODConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCODConfirmed event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}

// HandlePaymentFailed marks the pending payment behind a gateway intent
// as FAILED. Events already processed and non-pending payments are skipped.
func (s *PaymentService) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentFailed")
	defer func() { util.EndSpan(span, err) }()

	processed, err := s.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return persistence("check event processed", err)
	}
	if processed {
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	var marked bool
	err = s.store.InTx(ctx, func(repo store.Repository) error {
		if done, err := repo.IsEventProcessed(ctx, event.EventID); err != nil || done {
			return err
		}

		p, err := repo.GetPaymentByGatewayOrderID(ctx, event.GatewayOrderID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.logger.Warn("Payment failure for unknown intent", zap.String("gateway_order_id", event.GatewayOrderID))
		case err != nil:
			return persistence("load payment", err)
		case !p.Status.CanTransitionTo(models.PaymentStatusFailed):
			s.logger.Info("Ignoring payment failure for settled payment",
				zap.Int64("payment_id", p.ID), zap.String("status", string(p.Status)))
		default:
			p.Status = models.PaymentStatusFailed
			p.FailureReason = sql.NullString{String: event.Reason, Valid: event.Reason != ""}
			if err := repo.UpdatePayment(ctx, p); err != nil {
				return persistence("update payment", err)
			}
			marked = true
		}

		if err := repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			return persistence("mark event processed", err)
		}
		return nil
	})
	if err != nil {
		return classify("handle payment failure", err)
	}

	if marked {
		util.PaymentFailedTotal.Inc()
		s.logger.Warn("Payment failed",
			zap.String("gateway_order_id", event.GatewayOrderID),
			zap.String("reason", event.Reason))
	}
	return nil
}

func flowLabel(method models.PaymentMethod) string {
	if method == models.PaymentMethodCOD {
		return "cod"
	}
	return "gateway"
}
