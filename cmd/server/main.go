package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/gateway"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memory"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Starting checkout service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Driver))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.ReadinessCheck{}

	var st store.Transactor
	switch cfg.Database.Driver {
	case "memory":
		st = memory.New()
		logger.Warn("Using in-memory store, data is lost on restart")
	case "postgres":
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		checks["database"] = db.Ping
		st = db
		logger.Info("Database connected")
	default:
		logger.Fatal("Unknown STORE_DRIVER", zap.String("driver", cfg.Database.Driver))
	}

	// a nil *redisclient.Client must not reach the services as a non-nil interface
	var idem service.IdempotencyStore
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, idempotency keys disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		idem = redisClient
		checks["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.PublishTimeout)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	var gw gateway.Gateway
	if cfg.Payment.GatewayURL != "" {
		gw = gateway.NewRazorpay(gateway.Config{
			BaseURL:   cfg.Payment.GatewayURL,
			KeyID:     cfg.Payment.KeyID,
			KeySecret: cfg.Payment.KeySecret,
			Timeout:   cfg.Payment.Timeout,
		})
	} else {
		gw = gateway.NewSandbox(cfg.Payment.KeyID, cfg.Payment.KeySecret)
		logger.Warn("PAYMENT_GATEWAY_URL not set, using sandbox gateway")
	}

	ledger := service.NewInventoryLedger()
	coupons := service.NewCouponService(st)
	orderService := service.NewOrderService(st, ledger, eventPublisher, idem, cfg.Business.IdempotencyTTL)
	paymentService := service.NewPaymentService(st, ledger, coupons, gw, eventPublisher, idem, service.PaymentConfig{
		Currency:       cfg.Payment.Currency,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, coupons, api.NewAuthenticator(cfg.Auth.JWTSecret), checks)
	if cfg.Business.CheckoutRPS > 0 {
		handler.LimitCheckouts(api.NewRateLimiter(cfg.Business.CheckoutRPS, cfg.Business.CheckoutBurst, 3*time.Minute))
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	deadLetter := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDLQ, cfg.Kafka.PublishTimeout)
	defer deadLetter.Close()
	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicGateway, cfg.Kafka.ConsumerGroup,
		broker.WithDeadLetter(deadLetter))
	failureWorker := worker.NewPaymentFailureWorker(consumer, paymentService)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := failureWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("payment failure worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return failureWorker.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("Checkout service stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server exited")
}
