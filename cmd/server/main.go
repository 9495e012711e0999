package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"payment-service/config"
	"payment-service/internal/api"
	"payment-service/internal/broker"
	"payment-service/internal/cache"
	"payment-service/internal/currency"
	"payment-service/internal/gateway"
	"payment-service/internal/gateway/catalog"
	"payment-service/internal/gateway/stripecard"
	"payment-service/internal/models"
	"payment-service/internal/redisclient"
	"payment-service/internal/service"
	"payment-service/internal/store"
	"payment-service/internal/util"
	"payment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LoggerConfig{Env: cfg.Server.Env, Level: cfg.Observ.LogLevel}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment service")

	tp, err := util.InitTracer(util.TracerConfig{
		Endpoint:    cfg.Observ.JaegerEndpoint,
		Environment: cfg.Server.Env,
		SampleRatio: cfg.Observ.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		log.Println("Database schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	paymentProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment)
	defer paymentProducer.Close()
	pluginProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPlugin)
	defer pluginProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(paymentProducer, pluginProducer)

	registry := gateway.NewRegistry(
		db.Registrations(models.PluginTypePaymentProcessor),
		catalog.Default(),
		cache.NewMemory(),
		gatewaySettings(cfg),
		cfg.Payment.BaseCurrency,
		logger,
	)

	paymentService := service.NewPaymentService(
		db, db, db, redisClient, eventPublisher, registry,
		service.PaymentConfig{
			GatewayTimeout: cfg.Payment.GatewayTimeout,
			LockTTL:        cfg.Payment.LockTTL,
			IdempotencyTTL: cfg.Payment.IdempotencyTTL,
		},
	).WithIdempotencyKeys(redisClient)

	backends := service.NewPluginBackendSource(db, currency.Config{
		APIKey:      cfg.Currency.APIKey,
		BaseURL:     cfg.Currency.APIURL,
		Timeout:     cfg.Currency.FetchTimeout,
		StaticRates: cfg.Currency.StaticRates,
	}, cfg.Currency.Backend)

	exchangeService := service.NewExchangeService(db, redisClient, backends, eventPublisher, service.ExchangeConfig{
		BaseCurrency: cfg.Payment.BaseCurrency,
		Targets:      cfg.Currency.Targets,
		CacheTTL:     cfg.Currency.CacheTTL,
	})

	pluginService := service.NewPluginService(db, registry, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	pluginConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPlugin, pluginGroup(cfg))
	pluginWorker := worker.NewPluginEventWorker(pluginConsumer, registry)
	go func() {
		if err := pluginWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Plugin event worker stopped", zap.Error(err))
		}
	}()

	rateWorker := worker.NewRateRefreshWorker(exchangeService, redisClient, cfg.Currency.RefreshInterval)
	go func() {
		if err := rateWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Rate refresh worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(paymentService, exchangeService, pluginService, cfg.Payment.AllowedCurrencies).
		WithReadinessCheck("postgres", db).
		WithReadinessCheck("redis", redisClient)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := pluginWorker.Stop(); err != nil {
		log.Printf("Error closing plugin consumer: %v", err)
	}

	log.Println("Server exited")
}

// gatewaySettings returns provider settings keyed by module path
func gatewaySettings(cfg *config.Config) map[string]map[string]string {
	return map[string]map[string]string{
		stripecard.Path: {
			stripecard.SettingSecretKey:      cfg.Stripe.SecretKey,
			stripecard.SettingPublishableKey: cfg.Stripe.PublishableKey,
			stripecard.SettingWebhookSecret:  cfg.Stripe.WebhookSecret,
			stripecard.SettingSuccessURL:     cfg.Stripe.SuccessURL,
			stripecard.SettingCancelURL:      cfg.Stripe.CancelURL,
			stripecard.SettingAPIURL:         cfg.Stripe.APIURL,
			stripecard.SettingTimeoutSeconds: strconv.Itoa(int(cfg.Payment.GatewayTimeout / time.Second)),
		},
	}
}

// pluginGroup gives every instance its own consumer group so each one sees
// every plugin change
func pluginGroup(cfg *config.Config) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = strconv.Itoa(os.Getpid())
	}
	return fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, host)
}
