package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/util"

	"github.com/guonaihong/gout"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Razorpay creates orders on a Razorpay-compatible API
type Razorpay struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ Gateway = (*Razorpay)(nil)

func NewRazorpay(cfg Config) *Razorpay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Razorpay{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: util.GetLogger(),
	}
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type createOrderResponse struct {
	Intent
	errorResponse
}

func (r *Razorpay) KeyID() string {
	return r.cfg.KeyID
}

// CreateIntent registers amountCents with the provider and returns its handle
func (r *Razorpay) CreateIntent(ctx context.Context, amountCents int64, currency, receipt string) (_ *Intent, err error) {
	ctx, span := util.StartSpan(ctx, "Razorpay.CreateIntent")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	outcome := "error"
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("create_intent", outcome).Observe(time.Since(start).Seconds())
	}()

	var (
		resp createOrderResponse
		code int
	)
	err = gout.New(r.client).
		POST(r.cfg.BaseURL + "/v1/orders").
		WithContext(ctx).
		SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret).
		SetJSON(createOrderRequest{Amount: amountCents, Currency: currency, Receipt: receipt}).
		BindJSON(&resp).
		Code(&code).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}

	if code < 200 || code >= 300 {
		r.logger.Warn("Payment gateway rejected intent",
			zap.Int("status", code),
			zap.String("receipt", receipt),
			zap.String("code", resp.Error.Code))
		return nil, fmt.Errorf("payment gateway returned %d: %s", code, resp.Error.Description)
	}
	if resp.ID == "" {
		return nil, ErrEmptyIntentID
	}

	outcome = "ok"
	intent := resp.Intent
	return &intent, nil
}

func (r *Razorpay) VerifySignature(intentID, paymentID, signature string) bool {
	return VerifySignature(r.cfg.KeySecret, intentID, paymentID, signature)
}
