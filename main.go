package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ms-redemption/internal/analytics"
	analytics_api "ms-redemption/internal/analytics/api"
	"ms-redemption/internal/auth"
	"ms-redemption/internal/config"
	"ms-redemption/internal/database"
	"ms-redemption/internal/database/migrations"
	"ms-redemption/internal/kafka"
	"ms-redemption/internal/logger"
	"ms-redemption/internal/metrics"
	"ms-redemption/internal/models"
	"ms-redemption/internal/order"
	"ms-redemption/internal/order/db"
	orderkafka "ms-redemption/internal/order/kafka"
	"ms-redemption/internal/order/order_api"
	"ms-redemption/internal/payment"
	"ms-redemption/internal/payment/gateway"
	paymentredis "ms-redemption/internal/payment/redis"
	"ms-redemption/internal/redemption"
	"ms-redemption/internal/redemption/qr"
	"ms-redemption/internal/sse"
)

type lifecycleEvents interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderCancelled(ctx context.Context, order *models.Order) error
	PublishOrderClaimed(ctx context.Context, result models.ClaimResult) error
}

// fanout delivers lifecycle events to every sink. Sinks are best-effort, so
// one failing does not stop the others.
type fanout []lifecycleEvents

func (f fanout) PublishOrderCreated(ctx context.Context, o *models.Order) error {
	var errs []error
	for _, e := range f {
		errs = append(errs, e.PublishOrderCreated(ctx, o))
	}
	return errors.Join(errs...)
}

func (f fanout) PublishOrderPaid(ctx context.Context, o *models.Order) error {
	var errs []error
	for _, e := range f {
		errs = append(errs, e.PublishOrderPaid(ctx, o))
	}
	return errors.Join(errs...)
}

func (f fanout) PublishOrderCancelled(ctx context.Context, o *models.Order) error {
	var errs []error
	for _, e := range f {
		errs = append(errs, e.PublishOrderCancelled(ctx, o))
	}
	return errors.Join(errs...)
}

func (f fanout) PublishOrderClaimed(ctx context.Context, r models.ClaimResult) error {
	var errs []error
	for _, e := range f {
		errs = append(errs, e.PublishOrderClaimed(ctx, r))
	}
	return errors.Join(errs...)
}

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log, err := logger.NewLogger(cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting redemption service initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.Database.Driver == "postgres" && cfg.Database.AutoMigrate {
		migrate(cfg.Database.PostgresDSN, log)
	}
	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	store := db.New(bunDB)

	var guard payment.CommitGuard
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis not reachable at %s, commits will run unguarded until it is: %v", cfg.Redis.Addr, err))
		} else {
			log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))
		}
		guard = paymentredis.NewCommitLock(redisClient, cfg.Redis.CommitLockTTL)
	}

	feed := sse.NewActivityFeed()
	events := fanout{feed}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		events = append(events, orderkafka.NewProducer(producer, orderkafka.Topics{
			Created:   cfg.Kafka.Topics.OrderCreated,
			Paid:      cfg.Kafka.Topics.OrderPaid,
			Cancelled: cfg.Kafka.Topics.OrderCancelled,
			Claimed:   cfg.Kafka.Topics.OrderClaimed,
		}))
		log.LogKafka("PRODUCER", strings.Join(cfg.Kafka.Brokers, ","), "initialized")
	}

	gw, err := newGateway(cfg.Payment)
	if err != nil {
		log.Fatal("PAYMENT", err.Error())
	}
	codes, err := qr.NewGenerator(cfg.Redemption.Secret)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	handler := &order_api.Handler{
		Orders: order.NewOrderService(store, events, log, m),
		Checkout: &payment.Checkout{
			Store:            store,
			Gateway:          gw,
			Log:              log,
			ReturnURL:        cfg.Payment.ReturnURL,
			CurrencyExponent: cfg.Payment.CurrencyExponent,
			Timeout:          cfg.Payment.Timeout,
		},
		Reconciler: &payment.Reconciler{
			Store:   store,
			Gateway: gw,
			Guard:   guard,
			Codes:   codes,
			Events:  events,
			Log:     log,
			Metrics: m,
			Timeout: cfg.Payment.Timeout,
		},
		Redemptions: &redemption.Service{
			Store:      store,
			Events:     events,
			Codes:      codes,
			Log:        log,
			Metrics:    m,
			MaxRetries: cfg.Redemption.MaxRetries,
		},
		QR:          codes,
		Activity:    feed,
		Logger:      log,
		FrontendURL: cfg.Server.FrontendURL,
	}

	opts := order_api.RouterOptions{
		Metrics: m,
		Reporting: []order_api.RouteRegistrar{
			analytics_api.NewHandler(analytics.NewService(analytics.NewDB(bunDB)), log),
		},
	}
	if cfg.Auth.OIDCIssuer != "" {
		verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		opts.Protect = auth.Middleware(verifier)
		log.Info("AUTH", "OIDC verification applied to scanner and reporting routes")
	} else {
		log.Warn("AUTH", "OIDC_ISSUER not set, scanner and reporting routes are open")
	}

	addr := cfg.Server.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      order_api.NewRouter(handler, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Redemption service running on %s (payments via %s)", addr, cfg.Payment.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Redemption service shutdown complete")
	}
}

func migrate(dsn string, log *logger.Logger) {
	runner, err := migrations.NewRunner(dsn, log)
	if err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	defer runner.Close()
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
}

func newGateway(cfg config.PaymentConfig) (gateway.Gateway, error) {
	switch cfg.Provider {
	case "webpay":
		return gateway.NewWebpay(cfg.WebpayBaseURL, cfg.WebpayCommerceCode, cfg.WebpayAPIKey,
			&http.Client{Timeout: cfg.Timeout}), nil
	case "stripe":
		return gateway.NewStripe(cfg.StripeSecretKey, cfg.Currency, nil), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
