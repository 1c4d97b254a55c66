package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config captures runtime configuration for the API service.
type Config struct {
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telemetry     TelemetryConfig
	Service       ServiceConfig
	Orders        OrdersConfig
	Payment       PaymentConfig
	Scheduler     SchedulerConfig
	Notifications NotificationsConfig
}

type HTTPConfig struct {
	Port          int
	ShutdownGrace int
}

type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// RedisConfig points at the cancellation job store. An empty URL keeps jobs in memory.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// KafkaConfig selects the notification publisher. Without brokers notifications are logged.
type KafkaConfig struct {
	Brokers            []string
	NotificationsTopic string
}

type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTelEndpoint  string
	OTLPInsecure  bool
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type OrdersConfig struct {
	AutoCancelAfter       time.Duration
	FreeShippingThreshold decimal.Decimal
	DefaultShippingFee    decimal.Decimal
	// CityShippingFees is keyed by city name as configured.
	CityShippingFees map[string]decimal.Decimal
	AmountTolerance  decimal.Decimal
	// IdempotencyTTL is how long a create-order response is replayed; zero keeps it forever.
	IdempotencyTTL time.Duration
}

type PaymentConfig struct {
	VNPay VNPayConfig
}

type VNPayConfig struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	Locale      string
	ExpireAfter time.Duration
}

type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	AlertAfter   int
}

type NotificationsConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	OutboxPoll     time.Duration
	OutboxBatch    int
	OutboxLease    time.Duration
}

const (
	defaultHTTPPort           = 8080
	defaultShutdownGrace      = 15
	defaultAutoMigrate        = true
	defaultRedisKeyPrefix     = "orderflow:cancel"
	defaultNotificationsTopic = "order.notifications"
	defaultServiceName        = "orderflow-api"
	defaultServiceVersion     = "0.1.0"
	defaultEnvironment        = "development"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultOTelSampleRate     = 1.0
	defaultAutoCancelAfter    = 24 * time.Hour
	defaultFreeShipping       = "500000"
	defaultShippingFee        = "40000"
	defaultCityShippingFees   = "Hà Nội=30000,Hồ Chí Minh=30000"
	defaultAmountTolerance    = "1"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultVNPayPayURL        = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	defaultVNPayLocale        = "vn"
	defaultVNPayExpireAfter   = 15 * time.Minute
	defaultPollInterval       = time.Second
	defaultSchedulerBatch     = 50
	defaultSchedulerLease     = 30 * time.Second
	defaultSchedulerAlert     = 5
	defaultNotifyWorkers      = 2
	defaultNotifyQueueSize    = 256
	defaultNotifyAttempts     = 3
	defaultNotifyBackoff      = 200 * time.Millisecond
	defaultOutboxPoll         = 500 * time.Millisecond
	defaultOutboxBatch        = 100
	defaultOutboxLease        = 30 * time.Second
)

// Load reads configuration from environment variables, applying defaults when needed.
// Every malformed value is reported, not only the first.
func Load() (*Config, error) {
	env := &envReader{}

	cfg := &Config{
		HTTP:          loadHTTPConfig(env),
		Database:      loadDatabaseConfig(env),
		Redis:         loadRedisConfig(),
		Kafka:         loadKafkaConfig(),
		Telemetry:     loadTelemetryConfig(env),
		Service:       loadServiceConfig(),
		Orders:        loadOrdersConfig(env),
		Payment:       loadPaymentConfig(env),
		Scheduler:     loadSchedulerConfig(env),
		Notifications: loadNotificationsConfig(env),
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func loadHTTPConfig(env *envReader) HTTPConfig {
	return HTTPConfig{
		Port:          env.int("API_HTTP_PORT", defaultHTTPPort),
		ShutdownGrace: env.int("API_SHUTDOWN_GRACE_SECONDS", defaultShutdownGrace),
	}
}

func loadDatabaseConfig(env *envReader) DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL()
	}

	return DatabaseConfig{
		URL:         databaseURL,
		AutoMigrate: env.bool("AUTO_MIGRATE", defaultAutoMigrate),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:       os.Getenv("REDIS_URL"),
		KeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
	}
}

func loadKafkaConfig() KafkaConfig {
	var brokers []string
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && value != "" {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
	}

	return KafkaConfig{
		Brokers:            brokers,
		NotificationsTopic: getEnvOrDefault("KAFKA_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
	}
}

func loadTelemetryConfig(env *envReader) TelemetryConfig {
	sampleRate := env.float("OTEL_SAMPLE_RATE", defaultOTelSampleRate)
	if sampleRate < 0 || sampleRate > 1 {
		env.fail("OTEL_SAMPLE_RATE", errors.New("must be between 0.0 and 1.0"))
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", defaultLogFormat))
	if format != "json" && format != "text" {
		env.fail("LOG_FORMAT", fmt.Errorf("unknown format %q", format))
	}

	return TelemetryConfig{
		LogLevel:      getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:     format,
		OTelEndpoint:  getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:  env.bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		EnableTracing: env.bool("OTEL_ENABLE_TRACING", true),
		EnableMetrics: env.bool("OTEL_ENABLE_METRICS", true),
		SampleRate:    sampleRate,
	}
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func loadOrdersConfig(env *envReader) OrdersConfig {
	autoCancel := env.duration("ORDER_AUTO_CANCEL_AFTER", defaultAutoCancelAfter)
	if autoCancel <= 0 {
		env.fail("ORDER_AUTO_CANCEL_AFTER", errors.New("must be positive"))
	}
	idempotencyTTL := env.duration("IDEMPOTENCY_KEY_TTL", defaultIdempotencyTTL)
	if idempotencyTTL < 0 {
		env.fail("IDEMPOTENCY_KEY_TTL", errors.New("must not be negative"))
	}

	return OrdersConfig{
		AutoCancelAfter:       autoCancel,
		FreeShippingThreshold: env.decimal("ORDER_FREE_SHIPPING_THRESHOLD", defaultFreeShipping),
		DefaultShippingFee:    env.decimal("ORDER_DEFAULT_SHIPPING_FEE", defaultShippingFee),
		CityShippingFees:      env.fees("ORDER_CITY_SHIPPING_FEES", defaultCityShippingFees),
		AmountTolerance:       env.decimal("ORDER_AMOUNT_TOLERANCE", defaultAmountTolerance),
		IdempotencyTTL:        idempotencyTTL,
	}
}

func loadPaymentConfig(env *envReader) PaymentConfig {
	return PaymentConfig{
		VNPay: VNPayConfig{
			TmnCode:     os.Getenv("VNPAY_TMN_CODE"),
			HashSecret:  os.Getenv("VNPAY_HASH_SECRET"),
			PayURL:      getEnvOrDefault("VNPAY_PAY_URL", defaultVNPayPayURL),
			ReturnURL:   os.Getenv("VNPAY_RETURN_URL"),
			Locale:      getEnvOrDefault("VNPAY_LOCALE", defaultVNPayLocale),
			ExpireAfter: env.duration("VNPAY_EXPIRE_AFTER", defaultVNPayExpireAfter),
		},
	}
}

func loadSchedulerConfig(env *envReader) SchedulerConfig {
	return SchedulerConfig{
		PollInterval: env.duration("SCHEDULER_POLL_INTERVAL", defaultPollInterval),
		BatchSize:    env.int("SCHEDULER_BATCH_SIZE", defaultSchedulerBatch),
		Lease:        env.duration("SCHEDULER_LEASE", defaultSchedulerLease),
		AlertAfter:   env.int("SCHEDULER_ALERT_AFTER", defaultSchedulerAlert),
	}
}

func loadNotificationsConfig(env *envReader) NotificationsConfig {
	return NotificationsConfig{
		Workers:        env.int("NOTIFY_WORKERS", defaultNotifyWorkers),
		QueueSize:      env.int("NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize),
		MaxAttempts:    env.int("NOTIFY_MAX_ATTEMPTS", defaultNotifyAttempts),
		InitialBackoff: env.duration("NOTIFY_INITIAL_BACKOFF", defaultNotifyBackoff),
		OutboxPoll:     env.duration("NOTIFY_OUTBOX_POLL_INTERVAL", defaultOutboxPoll),
		OutboxBatch:    env.int("NOTIFY_OUTBOX_BATCH_SIZE", defaultOutboxBatch),
		OutboxLease:    env.duration("NOTIFY_OUTBOX_LEASE", defaultOutboxLease),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "orderflow")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	maxConns := getEnvOrDefault("DB_MAX_CONNS", "25")
	minConns := getEnvOrDefault("DB_MIN_CONNS", "5")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxConns, minConns, maxLifetime,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and collects every parse failure.
type envReader struct {
	errs []error
}

func (r *envReader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) int(key string, defaultValue int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, err)
		return defaultValue
	}
	return parsed
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.fail(key, err)
		return defaultValue
	}
	return parsed
}

func (r *envReader) bool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, err)
		return defaultValue
	}
	return parsed
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, err)
		return defaultValue
	}
	return parsed
}

func (r *envReader) decimal(key, defaultValue string) decimal.Decimal {
	value := getEnvOrDefault(key, defaultValue)
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		r.fail(key, err)
		return decimal.Zero
	}
	if parsed.IsNegative() {
		r.fail(key, errors.New("must not be negative"))
	}
	return parsed
}

// fees parses "City=amount" pairs separated by commas.
func (r *envReader) fees(key, defaultValue string) map[string]decimal.Decimal {
	value := getEnvOrDefault(key, defaultValue)
	fees := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		city, amount, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(city) == "" {
			r.fail(key, fmt.Errorf("malformed entry %q", pair))
			continue
		}
		fee, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			r.fail(key, fmt.Errorf("entry %q: %w", pair, err))
			continue
		}
		fees[strings.TrimSpace(city)] = fee
	}
	return fees
}
