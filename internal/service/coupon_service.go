package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"checkout-service/internal/coupon"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// CouponService resolves coupon codes and records their use
type CouponService struct {
	store  store.Transactor
	now    func() time.Time
	logger *zap.Logger
}

func NewCouponService(st store.Transactor) *CouponService {
	return &CouponService{
		store:  st,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// CouponValidation is the preview shown before checkout
type CouponValidation struct {
	Valid            bool           `json:"valid"`
	Message          string         `json:"message"`
	DiscountCents    int64          `json:"discount_cents"`
	FinalAmountCents int64          `json:"final_amount_cents"`
	Coupon           *models.Coupon `json:"coupon,omitempty"`
}

// NormalizeCode is the stored form of a user-typed code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup finds the active coupon for a user-typed code
func (s *CouponService) Lookup(ctx context.Context, code string) (*models.Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, detailf(ErrCouponNotFound, "empty code")
	}

	c, err := s.store.GetActiveCouponByCode(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return nil, detailf(ErrCouponNotFound, "code %q", normalized)
	}
	if err != nil {
		return nil, persistence("load coupon", err)
	}
	return c, nil
}

// ValidateCoupon previews the discount code would give on orderAmountCents.
// An unusable code is a valid=false result, not an error.
func (s *CouponService) ValidateCoupon(ctx context.Context, code string, orderAmountCents int64) (_ *CouponValidation, err error) {
	ctx, span := util.StartSpan(ctx, "CouponService.ValidateCoupon")
	defer func() { util.EndSpan(span, err) }()

	if orderAmountCents < 0 {
		return nil, detailf(ErrInvalidAmount, "%d", orderAmountCents)
	}

	c, err := s.Lookup(ctx, code)
	if errors.Is(err, ErrCouponNotFound) {
		return &CouponValidation{Message: coupon.ReasonNotFound, FinalAmountCents: orderAmountCents}, nil
	}
	if err != nil {
		return nil, err
	}

	result := coupon.Evaluate(c, orderAmountCents, s.now())
	validation := &CouponValidation{
		Valid:            result.Applicable,
		Message:          result.Reason,
		DiscountCents:    result.DiscountCents,
		FinalAmountCents: orderAmountCents - result.DiscountCents,
	}
	if result.Applicable {
		validation.Coupon = c
	}
	return validation, nil
}

// Apply evaluates code against orderAmountCents for checkout. Every failure,
// including lookup errors, yields no coupon and a zero discount.
func (s *CouponService) Apply(ctx context.Context, code string, orderAmountCents int64) (*models.Coupon, int64) {
	if strings.TrimSpace(code) == "" {
		return nil, 0
	}

	c, err := s.Lookup(ctx, code)
	if err != nil {
		if !errors.Is(err, ErrCouponNotFound) {
			s.logger.Warn("Coupon lookup failed, continuing without discount",
				zap.String("coupon_code", code), zap.Error(err))
		}
		util.CouponApplicationsTotal.WithLabelValues("not_found").Inc()
		return nil, 0
	}

	result := coupon.Evaluate(c, orderAmountCents, s.now())
	if !result.Applicable {
		s.logger.Info("Coupon not applied",
			zap.String("coupon_code", c.Code), zap.String("reason", result.Reason))
		util.CouponApplicationsTotal.WithLabelValues("rejected").Inc()
		return nil, 0
	}

	util.CouponApplicationsTotal.WithLabelValues("applied").Inc()
	return c, result.DiscountCents
}

// AttachCoupon records one use of the coupon by the order. Attaching the
// same pair again changes nothing and reports false.
func (s *CouponService) AttachCoupon(ctx context.Context, couponID, orderID int64) (_ bool, err error) {
	ctx, span := util.StartSpan(ctx, "CouponService.AttachCoupon")
	defer func() { util.EndSpan(span, err) }()

	var attached bool
	err = s.store.InTx(ctx, func(repo store.Repository) error {
		ok, err := repo.RedeemCoupon(ctx, couponID, orderID)
		if errors.Is(err, store.ErrUsageLimitReached) {
			return detailf(ErrCouponExhausted, "coupon %d", couponID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return detailf(ErrCouponNotFound, "coupon %d", couponID)
		}
		if err != nil {
			return persistence("redeem coupon", err)
		}
		attached = ok
		return nil
	})
	if err != nil {
		return false, classify("redeem coupon", err)
	}

	if attached {
		s.logger.Info("Coupon redeemed", zap.Int64("coupon_id", couponID), zap.Int64("order_id", orderID))
	}
	return attached, nil
}
