package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cardmint/cardmint-backend/pkg/types"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Shipping     ShippingConfig
	Checkout     CheckoutConfig
	Fulfillment  FulfillmentConfig
	PrintQueue   PrintQueueConfig
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
	cfg.Fulfillment.normalize()
	cfg.PrintQueue.normalize()
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARDMINT_APP_ENV" required:"true"`
	Port         string `envconfig:"CARDMINT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CARDMINT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARDMINT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CARDMINT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CARDMINT_DB_DSN"`
	Driver string `envconfig:"CARDMINT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARDMINT_DB_HOST"`
	LegacyPort     int    `envconfig:"CARDMINT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARDMINT_DB_USER"`
	LegacyPassword string `envconfig:"CARDMINT_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARDMINT_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARDMINT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARDMINT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARDMINT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARDMINT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARDMINT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARDMINT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARDMINT_REDIS_ADDR"`
	Password     string        `envconfig:"CARDMINT_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARDMINT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARDMINT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARDMINT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARDMINT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARDMINT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARDMINT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CARDMINT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CARDMINT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CARDMINT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"CARDMINT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"CARDMINT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"CARDMINT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"CARDMINT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"CARDMINT_ARGON_KEY_LEN" default:"32"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CARDMINT_CRON_INTERVAL" default:"1m"`
}

type RateLimitConfig struct {
	WebhookWindow  time.Duration `envconfig:"CARDMINT_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit int64         `envconfig:"CARDMINT_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"120"`
	AgentWindow    time.Duration `envconfig:"CARDMINT_RATE_LIMIT_AGENT_WINDOW" default:"1m"`
	AgentLimit     int64         `envconfig:"CARDMINT_RATE_LIMIT_AGENT_LIMIT" default:"300"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CARDMINT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CARDMINT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CARDMINT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CARDMINT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CARDMINT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"CARDMINT_PUBSUB_ORDERS_TOPIC" default:"cm-order-events"`
	EmailTopic  string `envconfig:"CARDMINT_PUBSUB_EMAIL_TOPIC" default:"cm-email-tasks"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"CARDMINT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"CARDMINT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"CARDMINT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"CARDMINT_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey         string        `envconfig:"CARDMINT_STRIPE_API_KEY"`
	SigningSecret  string        `envconfig:"CARDMINT_STRIPE_SIGNING_SECRET"`
	Env            string        `envconfig:"CARDMINT_STRIPE_ENV" default:"test"`
	IdempotencyTTL time.Duration `envconfig:"CARDMINT_STRIPE_IDEMPOTENCY_TTL" default:"24h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken string `envconfig:"CARDMINT_SQUARE_ACCESS_TOKEN"`
	Environment string `envconfig:"CARDMINT_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"CARDMINT_SQUARE_LOCATION_ID"`
}

type ShippingConfig struct {
	BaseURL     string        `envconfig:"CARDMINT_SHIPPING_BASE_URL" default:"https://api.easypost.com/v2"`
	APIKey      string        `envconfig:"CARDMINT_SHIPPING_API_KEY"`
	HTTPTimeout time.Duration `envconfig:"CARDMINT_SHIPPING_HTTP_TIMEOUT" default:"30s"`
}

type CheckoutConfig struct {
	ReservationTTL time.Duration `envconfig:"CARDMINT_CHECKOUT_RESERVATION_TTL" default:"30m"`
	SuccessURL     string        `envconfig:"CARDMINT_CHECKOUT_SUCCESS_URL" required:"true"`
	CancelURL      string        `envconfig:"CARDMINT_CHECKOUT_CANCEL_URL" required:"true"`
}

type FulfillmentConfig struct {
	LabelLockStaleAfter time.Duration `envconfig:"CARDMINT_FULFILLMENT_LABEL_LOCK_STALE_AFTER" default:"5m"`
	DefaultWeightOz     float64       `envconfig:"CARDMINT_FULFILLMENT_DEFAULT_WEIGHT_OZ" default:"4"`
	DefaultService      string        `envconfig:"CARDMINT_FULFILLMENT_DEFAULT_SERVICE" default:"GroundAdvantage"`

	ShipFromName       string `envconfig:"CARDMINT_SHIP_FROM_NAME"`
	ShipFromLine1      string `envconfig:"CARDMINT_SHIP_FROM_LINE1"`
	ShipFromCity       string `envconfig:"CARDMINT_SHIP_FROM_CITY"`
	ShipFromState      string `envconfig:"CARDMINT_SHIP_FROM_STATE"`
	ShipFromPostalCode string `envconfig:"CARDMINT_SHIP_FROM_POSTAL_CODE"`
	ShipFromCountry    string `envconfig:"CARDMINT_SHIP_FROM_COUNTRY" default:"US"`
	ShipFromPhone      string `envconfig:"CARDMINT_SHIP_FROM_PHONE"`
}

// ShipFromAddress assembles the warehouse return address used on every
// purchased label.
func (f FulfillmentConfig) ShipFromAddress() types.Address {
	addr := types.Address{
		Name:       f.ShipFromName,
		Line1:      f.ShipFromLine1,
		City:       f.ShipFromCity,
		State:      f.ShipFromState,
		PostalCode: f.ShipFromPostalCode,
		Country:    f.ShipFromCountry,
	}
	if f.ShipFromPhone != "" {
		phone := f.ShipFromPhone
		addr.Phone = &phone
	}
	return addr
}

type PrintQueueConfig struct {
	DownloadStaleAfter time.Duration `envconfig:"CARDMINT_PRINT_QUEUE_DOWNLOAD_STALE_AFTER" default:"10m"`
	PrintStaleAfter    time.Duration `envconfig:"CARDMINT_PRINT_QUEUE_PRINT_STALE_AFTER" default:"10m"`
	AgentOfflineAfter  time.Duration `envconfig:"CARDMINT_PRINT_QUEUE_AGENT_OFFLINE_AFTER" default:"2m"`
}

const (
	minStaleAfter = time.Minute
	maxStaleAfter = time.Hour
)

func clampStaleAfter(d time.Duration) time.Duration {
	if d < minStaleAfter {
		return minStaleAfter
	}
	if d > maxStaleAfter {
		return maxStaleAfter
	}
	return d
}

func (f *FulfillmentConfig) normalize() {
	f.LabelLockStaleAfter = clampStaleAfter(f.LabelLockStaleAfter)
}

func (p *PrintQueueConfig) normalize() {
	p.DownloadStaleAfter = clampStaleAfter(p.DownloadStaleAfter)
	p.PrintStaleAfter = clampStaleAfter(p.PrintStaleAfter)
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
