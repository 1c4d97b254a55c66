package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dejobratic/orderflow/internal/config"
	"github.com/dejobratic/orderflow/internal/database"
	idempostgres "github.com/dejobratic/orderflow/internal/idempotency/postgres"
	"github.com/dejobratic/orderflow/internal/kafka"
	"github.com/dejobratic/orderflow/internal/notify"
	ordersadapters "github.com/dejobratic/orderflow/internal/orders/adapters"
	httpadapter "github.com/dejobratic/orderflow/internal/orders/adapters/http"
	orderspostgres "github.com/dejobratic/orderflow/internal/orders/adapters/postgres"
	ordersapp "github.com/dejobratic/orderflow/internal/orders/app"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	ordersmetrics "github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/outbox"
	outboxpostgres "github.com/dejobratic/orderflow/internal/outbox/postgres"
	"github.com/dejobratic/orderflow/internal/payment/vnpay"
	"github.com/dejobratic/orderflow/internal/retry"
	"github.com/dejobratic/orderflow/internal/scheduler"
	"github.com/dejobratic/orderflow/internal/telemetry"
)

const meterName = "github.com/dejobratic/orderflow"

// publisher is what the notification queue delivers through and main closes on exit.
type publisher interface {
	notify.Publisher
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		slog.Error("failed to parse log level", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(telemetry.LogConfig{
		Level:  level,
		Format: cfg.Telemetry.LogFormat,
		Attrs: []slog.Attr{
			slog.String("service", cfg.Service.Name),
			slog.String("environment", cfg.Service.Environment),
		},
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, tel.Shutdown(shutdownCtx))
	}()

	meter := otel.Meter(meterName)

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations")
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations completed successfully")
	}

	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	poolMetrics, err := database.RegisterPoolMetrics(meter, pool)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, poolMetrics.Unregister())
	}()
	ordMetrics, err := ordersmetrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}

	vnpayCfg := vnpay.Config{
		TmnCode:     cfg.Payment.VNPay.TmnCode,
		HashSecret:  cfg.Payment.VNPay.HashSecret,
		PayURL:      cfg.Payment.VNPay.PayURL,
		ReturnURL:   cfg.Payment.VNPay.ReturnURL,
		Locale:      cfg.Payment.VNPay.Locale,
		ExpireAfter: cfg.Payment.VNPay.ExpireAfter,
	}
	if err := vnpayCfg.Validate(); err != nil {
		return fmt.Errorf("vnpay config: %w", err)
	}

	jobStore, redisClient, err := newJobStore(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cancellations := scheduler.New(jobStore, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		Lease:        cfg.Scheduler.Lease,
		AlertAfter:   cfg.Scheduler.AlertAfter,
	}, logger)

	pub, err := newPublisher(cfg.Kafka, meter, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, pub.Close())
	}()
	queue := notify.NewQueue(pub, notify.Config{
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
		Retry: retry.Policy{
			Attempts:        cfg.Notifications.MaxAttempts,
			InitialInterval: cfg.Notifications.InitialBackoff,
		},
	}, logger)

	notifications := outboxpostgres.NewStore(pool)
	relay := outbox.NewRelay(notifications, queue, outbox.Config{
		PollInterval: cfg.Notifications.OutboxPoll,
		BatchSize:    cfg.Notifications.OutboxBatch,
		Lease:        cfg.Notifications.OutboxLease,
	}, logger)

	backlogMetrics, err := outbox.RegisterMetrics(meter, notifications)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, backlogMetrics.Unregister())
	}()
	if backlog, ok := jobStore.(scheduler.Backlog); ok {
		jobMetrics, regErr := scheduler.RegisterMetrics(meter, backlog)
		if regErr != nil {
			return regErr
		}
		defer func() {
			err = errors.Join(err, jobMetrics.Unregister())
		}()
	}

	deps := commands.Dependencies{
		Store:     ordersadapters.NewObservableStore(orderspostgres.NewStore(pool), dbMetrics),
		Stock:     orderspostgres.NewStockLedger(pool),
		Carts:     orderspostgres.NewCarts(pool),
		Addresses: orderspostgres.NewAddresses(pool),
		Gateway:   vnpay.NewGateway(vnpayCfg),
		Scheduler: cancellations,
		Notifier:  notifications,
		Logger:    logger,
	}
	service := ordersapp.NewService(deps, idempostgres.NewStore(pool, cfg.Orders.IdempotencyTTL), orderOptions(cfg.Orders), ordMetrics)

	// workers outlive the HTTP server so in-flight requests still get their side effects
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		_ = queue.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		_ = relay.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		_ = cancellations.Run(workerCtx, service.ExpireOrder)
	}()
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httpadapter.WithRequestLogging(logger))
	router.Use(middleware.Recoverer)
	router.Use(httpadapter.WithMetrics(httpMetrics))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ready(r.Context(), pool, redisClient); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	httpadapter.NewHandler(service, logger).Register(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

// newJobStore keeps cancellation jobs in Redis when configured, in memory otherwise.
func newJobStore(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (scheduler.Store, *redis.Client, error) {
	if cfg.URL == "" {
		logger.Warn("REDIS_URL not set, cancellation jobs are kept in memory and lost on restart")
		return scheduler.NewMemoryStore(), nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return scheduler.NewRedisStore(client, cfg.KeyPrefix), client, nil
}

// newPublisher publishes notifications to Kafka when brokers are configured and logs
// them otherwise.
func newPublisher(cfg config.KafkaConfig, meter metric.Meter, logger *slog.Logger) (publisher, error) {
	if len(cfg.Brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, notifications are only logged")
		return kafka.NewLogPublisher(logger), nil
	}

	metrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return nil, err
	}
	writer := kafka.NewWriter(cfg.Brokers, cfg.NotificationsTopic)
	return kafka.NewPublisher(writer, cfg.NotificationsTopic, metrics), nil
}

func orderOptions(cfg config.OrdersConfig) commands.Options {
	opts := commands.DefaultOptions()

	cityFees := make(map[string]decimal.Decimal, len(cfg.CityShippingFees))
	for city, fee := range cfg.CityShippingFees {
		cityFees[domain.NormalizeCity(city)] = fee
	}
	opts.Pricing = domain.PricingPolicy{
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		DefaultFee:            cfg.DefaultShippingFee,
		CityFees:              cityFees,
	}
	opts.AutoCancelAfter = cfg.AutoCancelAfter
	opts.AmountTolerance = cfg.AmountTolerance
	return opts
}

func ready(ctx context.Context, pool *pgxpool.Pool, client *redis.Client) error {
	if err := database.CheckHealth(ctx, pool); err != nil {
		return err
	}
	if client != nil {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
