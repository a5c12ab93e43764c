package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/coupon"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	coupons  *service.CouponService
	auth     *Authenticator
	limiter  *RateLimiter
	checks   map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	coupons *service.CouponService,
	auth *Authenticator,
	checks map[string]ReadinessCheck,
) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		coupons:  coupons,
		auth:     auth,
		checks:   checks,
	}
}

// LimitCheckouts rate-limits the endpoints that create orders
func (h *Handler) LimitCheckouts(l *RateLimiter) {
	h.limiter = l
}

func (h *Handler) checkoutLimit() gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return h.limiter.Middleware()
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", h.auth.Middleware())
	{
		v1.POST("/orders", h.checkoutLimit(), h.createOrder)
		v1.GET("/orders", h.listMyOrders)
		v1.GET("/orders/:id", h.getOrder)

		v1.POST("/payments/create-order", h.checkoutLimit(), h.createPaymentOrder)
		v1.POST("/payments/verify", h.verifyPayment)
		v1.POST("/payments/confirm-cod/:orderId", h.confirmCOD)

		v1.POST("/coupons/validate", h.validateCoupon)

		admin := v1.Group("/admin")
		admin.GET("/orders", h.listOrders)
		admin.PUT("/orders/:id/status", h.updateOrderStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// orderView adds display amounts to an order
type orderView struct {
	*models.Order
	Total    string `json:"total"`
	Discount string `json:"discount"`
}

func viewOrder(order *models.Order) orderView {
	return orderView{
		Order:    order,
		Total:    coupon.FormatCents(order.TotalCents),
		Discount: coupon.FormatCents(order.DiscountCents),
	}
}

func viewOrders(orders []models.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, viewOrder(&orders[i]))
	}
	return views
}

func pageParams(c *gin.Context) (int, int) {
	pageNumber, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	return pageNumber, pageSize
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid order ID", nil)
		return 0, false
	}
	return id, true
}

// createOrder handles direct order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orders.CreateOrder(c.Request.Context(), principalFrom(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, viewOrder(order))
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOrder(order))
}

func (h *Handler) listMyOrders(c *gin.Context) {
	pageNumber, pageSize := pageParams(c)

	orders, err := h.orders.ListMyOrders(c.Request.Context(), principalFrom(c), pageNumber, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": viewOrders(orders), "page": pageNumber})
}

func (h *Handler) createPaymentOrder(c *gin.Context) {
	var req service.CreatePaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.payments.CreatePaymentOrder(c.Request.Context(), principalFrom(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.payments.VerifyPayment(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOrder(order))
}

func (h *Handler) confirmCOD(c *gin.Context) {
	orderID, ok := idParam(c, "orderId")
	if !ok {
		return
	}

	order, err := h.payments.ConfirmCODOrder(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOrder(order))
}

type validateCouponRequest struct {
	Code             string `json:"code" binding:"required"`
	OrderAmountCents int64  `json:"order_amount_cents" binding:"min=0"`
}

func (h *Handler) validateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.coupons.ValidateCoupon(c.Request.Context(), req.Code, req.OrderAmountCents)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) listOrders(c *gin.Context) {
	pageNumber, pageSize := pageParams(c)

	orders, err := h.orders.ListOrders(c.Request.Context(), principalFrom(c), c.Query("status"), pageNumber, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": viewOrders(orders), "page": pageNumber})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), principalFrom(c), orderID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOrder(order))
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
