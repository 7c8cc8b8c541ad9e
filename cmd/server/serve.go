package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mealmate/internal/infra/circuitbreaker"
	"mealmate/internal/config"
	api "mealmate/internal/controllers/http"
	"mealmate/internal/infra"
	"mealmate/internal/infra/gateway"
	"mealmate/internal/infra/kafka"
	"mealmate/internal/infra/mysql"
	"mealmate/internal/infra/rabbitmq"
	"mealmate/internal/infra/tracing"
	"mealmate/internal/metrics"
	mysqlrepo "mealmate/internal/repository/mysql"
	"mealmate/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	taxRate, err := cfg.Orders.TaxRateDecimal()
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := mysql.Open(cfg.MySQL, logger)
	if err != nil {
		return err
	}
	if err := mysql.Migrate(db); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	store := mysqlrepo.NewStore(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	catalog := infra.NewCachedCatalog(
		infra.NewCatalogClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout),
		rdb, cfg.Catalog.RestaurantCacheTTL, logger,
	)
	if len(cfg.Catalog.WarmupRestaurantIDs) > 0 {
		go catalog.Warmup(ctx, cfg.Catalog.WarmupRestaurantIDs)
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		KeyID:         cfg.Gateway.KeyID,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Timeout:       cfg.Gateway.Timeout,
	}, circuitbreaker.NewCircuitBreaker(cfg.Gateway.BreakerMaxFailures, cfg.Gateway.BreakerResetTimeout))

	var orderEvents rabbitmq.PublisherInterface
	if cfg.RabbitMQ.Enabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			return fmt.Errorf("failed to init publisher: %w", err)
		}
		defer pub.Close()
		orderEvents = pub
	}

	var ledgerEvents kafka.LedgerPublisherInterface
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return fmt.Errorf("failed to init kafka producer: %w", err)
		}
		lp := kafka.NewLedgerPublisher(producer, cfg.Kafka.LedgerTopic, logger)
		defer lp.Close()
		ledgerEvents = lp
	}

	events := services.NewEventSink(orderEvents, ledgerEvents, logger)
	refunds := services.NewRefundService(store, gw, events, logger)
	orders := services.NewOrderService(store, catalog, refunds, events, services.OrderConfig{
		TaxRate:              taxRate,
		OrderNumberAttempts:  cfg.Orders.OrderNumberAttempts,
		EstimatedDeliveryETA: cfg.Orders.EstimatedDeliveryETA,
	}, logger)
	svc := api.Services{
		Carts:    services.NewCartService(store, catalog, logger),
		Orders:   orders,
		Payments: services.NewPaymentService(store, gw, events, cfg.Gateway.Currency, logger),
		Refunds:  refunds,
		Ledger:   services.NewLedgerService(store, catalog),
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	r.Use(api.LoggerMiddleware(logger))
	r.Use(metrics.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.PrometheusHandler())
	api.NewHandler(svc, []byte(cfg.Auth.JWTSecret), logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting mealmate API", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server run: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
