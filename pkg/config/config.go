package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Payments    PaymentsConfig
	Rates       RatesConfig
	WalletRPC   WalletRPCConfig
	BTCPay      BTCPayConfig
	Coinbase    CoinbaseConfig
	Fulfillment FulfillmentConfig
	Eventing    EventingConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	Outbox      OutboxConfig
	Cron        CronConfig

	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BLOCKWEAR_APP_ENV" required:"true"`
	Port         string `envconfig:"BLOCKWEAR_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BLOCKWEAR_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BLOCKWEAR_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BLOCKWEAR_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BLOCKWEAR_DB_DSN"`
	Driver string `envconfig:"BLOCKWEAR_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BLOCKWEAR_DB_HOST"`
	LegacyPort     int    `envconfig:"BLOCKWEAR_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BLOCKWEAR_DB_USER"`
	LegacyPassword string `envconfig:"BLOCKWEAR_DB_PASSWORD"`
	LegacyName     string `envconfig:"BLOCKWEAR_DB_NAME"`
	LegacySSLMode  string `envconfig:"BLOCKWEAR_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BLOCKWEAR_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BLOCKWEAR_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BLOCKWEAR_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BLOCKWEAR_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BLOCKWEAR_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BLOCKWEAR_REDIS_ADDR"`
	Password     string        `envconfig:"BLOCKWEAR_REDIS_PASSWORD"`
	DB           int           `envconfig:"BLOCKWEAR_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BLOCKWEAR_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BLOCKWEAR_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BLOCKWEAR_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BLOCKWEAR_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BLOCKWEAR_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string        `envconfig:"BLOCKWEAR_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"BLOCKWEAR_JWT_ISSUER" required:"true"`
	TTL    time.Duration `envconfig:"BLOCKWEAR_JWT_TTL" default:"12h"`
}

// PaymentsConfig tunes the reconciliation state machine.
type PaymentsConfig struct {
	// TolerancePercent is the underpayment slack still counted as paid in
	// full, expressed in percent (1.0 means received >= expected*0.99).
	TolerancePercent float64       `envconfig:"BLOCKWEAR_PAYMENT_TOLERANCE_PERCENT" default:"1.0"`
	Window           time.Duration `envconfig:"BLOCKWEAR_PAYMENT_WINDOW" default:"1h"`
	PollInterval     time.Duration `envconfig:"BLOCKWEAR_PAYMENT_POLL_INTERVAL" default:"30s"`
	MinConfirmations int           `envconfig:"BLOCKWEAR_PAYMENT_MIN_CONFIRMATIONS" default:"2"`
	SweepBatchSize   int           `envconfig:"BLOCKWEAR_PAYMENT_SWEEP_BATCH_SIZE" default:"100"`
}

type RatesConfig struct {
	BaseURL  string        `envconfig:"BLOCKWEAR_RATES_BASE_URL" default:"https://api.coingecko.com/api/v3"`
	CacheTTL time.Duration `envconfig:"BLOCKWEAR_RATES_CACHE_TTL" default:"90s"`
	Timeout  time.Duration `envconfig:"BLOCKWEAR_RATES_TIMEOUT" default:"10s"`
}

// WalletRPCConfig points at the self-hosted wallets watched by polling.
// Endpoints maps currency code to JSON-RPC URL, e.g. "DCR:https://...,LTC:https://...".
type WalletRPCConfig struct {
	Endpoints map[string]string `envconfig:"BLOCKWEAR_WALLET_RPC_ENDPOINTS"`
	User      string            `envconfig:"BLOCKWEAR_WALLET_RPC_USER"`
	Password  string            `envconfig:"BLOCKWEAR_WALLET_RPC_PASSWORD"`
	Timeout   time.Duration     `envconfig:"BLOCKWEAR_WALLET_RPC_TIMEOUT" default:"15s"`
}

type BTCPayConfig struct {
	BaseURL       string `envconfig:"BLOCKWEAR_BTCPAY_BASE_URL"`
	APIKey        string `envconfig:"BLOCKWEAR_BTCPAY_API_KEY"`
	StoreID       string `envconfig:"BLOCKWEAR_BTCPAY_STORE_ID"`
	WebhookSecret string `envconfig:"BLOCKWEAR_BTCPAY_WEBHOOK_SECRET"`
}

type CoinbaseConfig struct {
	BaseURL       string `envconfig:"BLOCKWEAR_COINBASE_BASE_URL" default:"https://api.commerce.coinbase.com"`
	APIKey        string `envconfig:"BLOCKWEAR_COINBASE_API_KEY"`
	WebhookSecret string `envconfig:"BLOCKWEAR_COINBASE_WEBHOOK_SECRET"`
}

type FulfillmentConfig struct {
	BaseURL    string        `envconfig:"BLOCKWEAR_FULFILLMENT_BASE_URL"`
	APIKey     string        `envconfig:"BLOCKWEAR_FULFILLMENT_API_KEY"`
	WebhookKey string        `envconfig:"BLOCKWEAR_FULFILLMENT_WEBHOOK_KEY"`
	Timeout    time.Duration `envconfig:"BLOCKWEAR_FULFILLMENT_TIMEOUT" default:"30s"`
	MaxRetries uint64        `envconfig:"BLOCKWEAR_FULFILLMENT_MAX_RETRIES" default:"3"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BLOCKWEAR_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BLOCKWEAR_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BLOCKWEAR_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BLOCKWEAR_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentsTopic            string `envconfig:"BLOCKWEAR_PUBSUB_PAYMENTS_TOPIC" required:"true"`
	PaymentsSubscription     string `envconfig:"BLOCKWEAR_PUBSUB_PAYMENTS_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"BLOCKWEAR_PUBSUB_NOTIFICATION_TOPIC" default:"bw-notification-events"`
	NotificationSubscription string `envconfig:"BLOCKWEAR_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BLOCKWEAR_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BLOCKWEAR_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BLOCKWEAR_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BLOCKWEAR_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"BLOCKWEAR_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BLOCKWEAR_FF_AUTO_MIGRATE" default:"false"`
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
