package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flowlytix/payment-service/internal/module/payment"
	"github.com/flowlytix/payment-service/internal/module/payment/provider"
	"github.com/flowlytix/payment-service/internal/shared/cache"
	"github.com/flowlytix/payment-service/internal/shared/config"
	"github.com/flowlytix/payment-service/internal/shared/database"
	"github.com/flowlytix/payment-service/internal/shared/logger"
	"github.com/flowlytix/payment-service/internal/utils/metrics"
	"github.com/flowlytix/payment-service/internal/utils/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Database
	db, err := database.New(&cfg.Database)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		zlog.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		zlog.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer cache.Close(redisClient)

	m := metrics.New("")

	// Gateways
	registry := payment.NewGatewayRegistry()
	if cfg.Stripe.APIKey != "" {
		registry.Register(provider.NewStripeGateway(&provider.StripeConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		}))
	}
	if cfg.Alipay.AppID != "" {
		alipayGateway, err := provider.NewAlipayGateway(&provider.AlipayConfig{
			AppID:           cfg.Alipay.AppID,
			PrivateKey:      cfg.Alipay.PrivateKey,
			AlipayPublicKey: cfg.Alipay.AlipayPublicKey,
			IsProd:          cfg.Alipay.IsProd,
			NotifyURL:       strings.TrimRight(cfg.Gateway.NotifyBaseURL, "/") + "/webhooks/alipay",
		})
		if err != nil {
			zlog.Fatal("Failed to initialize alipay gateway", zap.Error(err))
		}
		registry.Register(alipayGateway)
	}
	zlog.Info("Registered payment gateways", zap.Strings("gateways", registry.List()))

	breakerCfg := &payment.BreakerConfig{
		FailureThreshold:    cfg.Gateway.FailureThreshold,
		Interval:            cfg.Gateway.CircuitInterval,
		Timeout:             cfg.Gateway.CircuitTimeout,
		MaxHalfOpenRequests: cfg.Gateway.MaxHalfOpenRequests,
	}

	repo := payment.NewRepository(db, nil, nil)
	service := payment.NewService(repo, registry, breakerCfg, nil, nil, zlog, m)

	scheduler := payment.NewRetryScheduler(service, repo, &payment.SchedulerConfig{
		Interval:  cfg.Retry.SchedulerInterval,
		BatchSize: cfg.Retry.BatchSize,
	}, nil, zlog, m)
	scheduler.Start()
	defer scheduler.Stop()

	router := buildRouter(zlog, m, service, redisClient)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		zlog.Info("Starting server", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}

	zlog.Info("Server exited")
}

func buildRouter(zlog *zap.Logger, m *metrics.Metrics, service *payment.Service, redisClient redis.UniversalClient) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery(zlog))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(zlog))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRedisRateLimiter(redisClient)

	// Gateway callbacks authenticate with signatures, not tenant headers.
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.RateLimitByIP(limiter, 600, time.Minute))
	payment.NewWebhookHandler(service, zlog).RegisterRoutes(webhooks)

	api := router.Group("/api/v1")
	api.Use(middleware.TenantAuth())
	api.Use(middleware.RateLimitByAgency(limiter, 300, time.Minute))
	api.Use(middleware.Idempotency(redisClient, middleware.DefaultIdempotencyConfig()))
	payment.NewHandler(service).RegisterRoutes(api)

	return router
}
