package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Fees         FeesConfig
	Payment      PaymentConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payment.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validateProd(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateProd refuses dev-only switches when running in production: schema
// changes go through cmd/migrate there, and orders never live in SQLite.
func (c *Config) validateProd() error {
	if !c.App.IsProd() {
		return nil
	}
	if c.FeatureFlags.AutoMigrate {
		return fmt.Errorf("%s must be off in production", EnvAutoMigrate)
	}
	if strings.EqualFold(strings.TrimSpace(c.DB.Driver), "sqlite") {
		return fmt.Errorf("%s=sqlite is not allowed in production", EnvDBDriver)
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string   `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind            string        `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"15s"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

// CheckoutConfig tunes the order placement transaction.
type CheckoutConfig struct {
	MaxAttempts int    `envconfig:"STOREFRONT_CHECKOUT_MAX_ATTEMPTS" default:"3"`
	Currency    string `envconfig:"STOREFRONT_CURRENCY" default:"THB"`
	// RateLimit caps checkout attempts per buyer inside RateWindow. Zero disables it.
	RateLimit  int           `envconfig:"STOREFRONT_CHECKOUT_RATE_LIMIT" default:"10"`
	RateWindow time.Duration `envconfig:"STOREFRONT_CHECKOUT_RATE_WINDOW" default:"1m"`
}

// FeesConfig holds the platform commission tiers. Thresholds are minor units.
type FeesConfig struct {
	LowTierMaxCents int64  `envconfig:"STOREFRONT_FEE_LOW_TIER_MAX_CENTS" default:"100000"`
	MidTierMaxCents int64  `envconfig:"STOREFRONT_FEE_MID_TIER_MAX_CENTS" default:"400000"`
	LowTierRate     string `envconfig:"STOREFRONT_FEE_LOW_TIER_RATE" default:"0.03"`
	MidTierRate     string `envconfig:"STOREFRONT_FEE_MID_TIER_RATE" default:"0.03"`
	HighTierRate    string `envconfig:"STOREFRONT_FEE_HIGH_TIER_RATE" default:"0.05"`
}

type PaymentConfig struct {
	CardProvider   string        `envconfig:"STOREFRONT_PAYMENT_CARD_PROVIDER" default:"paygate"`
	BaseURL        string        `envconfig:"STOREFRONT_PAYGATE_BASE_URL" default:"https://api.omise.co"`
	SecretKey      string        `envconfig:"STOREFRONT_PAYGATE_SECRET_KEY"`
	WebhookSecret  string        `envconfig:"STOREFRONT_PAYGATE_WEBHOOK_SECRET"`
	Timeout        time.Duration `envconfig:"STOREFRONT_PAYGATE_TIMEOUT" default:"10s"`
	QRTTL          time.Duration `envconfig:"STOREFRONT_PAYMENT_QR_TTL" default:"15m"`
	CardTTL        time.Duration `envconfig:"STOREFRONT_PAYMENT_CARD_TTL" default:"30m"`
	ReconcileAfter time.Duration `envconfig:"STOREFRONT_PAYMENT_RECONCILE_AFTER" default:"2m"`
	WebhookDedupe  time.Duration `envconfig:"STOREFRONT_PAYMENT_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

// UsesSquare reports whether card charges are routed through Square.
func (p PaymentConfig) UsesSquare() bool {
	return strings.EqualFold(strings.TrimSpace(p.CardProvider), PaymentProviderSquare)
}

func (p PaymentConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.CardProvider)) {
	case PaymentProviderPaygate, PaymentProviderSquare:
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvPaymentCardProvider, p.CardProvider)
	}
}

type SquareConfig struct {
	AccessToken string `envconfig:"STOREFRONT_SQUARE_ACCESS_TOKEN"`
	LocationID  string `envconfig:"STOREFRONT_SQUARE_LOCATION_ID"`
	Env         string `envconfig:"STOREFRONT_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"storefront-order-events"`
	OrdersSubscription string `envconfig:"STOREFRONT_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	OrdersTopic  string        `envconfig:"STOREFRONT_KAFKA_ORDERS_TOPIC" default:"storefront.orders"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_KAFKA_WRITE_TIMEOUT" default:"10s"`
}

type OutboxConfig struct {
	Sink           string `envconfig:"STOREFRONT_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int    `envconfig:"STOREFRONT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"55s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
