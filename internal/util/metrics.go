package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Total number of orders created, by flow",
	}, []string{"flow"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_paid_total",
		Help: "Total number of orders paid through the gateway",
	})

	OrdersCODConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_cod_confirmed_total",
		Help: "Total number of cash-on-delivery orders confirmed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_failed_total",
		Help: "Total number of rejected checkout requests",
	}, []string{"reason"})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_order_status_changes_total",
		Help: "Total number of admin order status changes",
	}, []string{"to"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	InventoryReleasedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_inventory_released_units_total",
		Help: "Total number of stock units returned by cancellations and refunds",
	})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_verifications_total",
		Help: "Total number of payment verification callbacks, by outcome",
	}, []string{"outcome"})

	PaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_payment_failed_total",
		Help: "Total number of payments marked failed by the gateway",
	})

	CouponApplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_coupon_applications_total",
		Help: "Total number of coupon evaluations at checkout, by outcome",
	}, []string{"outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_gateway_request_latency_seconds",
		Help:    "Latency of payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
