package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App             AppConfig
	Service         ServiceConfig
	HTTP            HTTPConfig
	DB              DBConfig
	Redis           RedisConfig
	JWT             JWTConfig
	FeatureFlags    FeatureFlagsConfig
	Eventing        EventingConfig
	StatusRateLimit StatusRateLimitConfig
	Gateway         GatewayConfig
	Stripe          StripeConfig
	Square          SquareConfig
	Razorpay        RazorpayConfig
	Sandbox         SandboxConfig
	GCP             GCPConfig
	PubSub          PubSubConfig
	Kafka           KafkaConfig
	Events          EventsConfig
	Outbox          OutboxConfig
	Sendgrid        SendgridConfig
	SMTP            SMTPConfig
	Reconcile       ReconcileConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Events.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COURSEPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"COURSEPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COURSEPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COURSEPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"COURSEPAY_LOG_FORMAT" default:"json"`

	// PublicName is used in receipts and confirmation mail.
	PublicName string `envconfig:"COURSEPAY_APP_PUBLIC_NAME" default:"CoursePay"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COURSEPAY_SERVICE_KIND" default:"api"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `envconfig:"COURSEPAY_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"COURSEPAY_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"COURSEPAY_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"COURSEPAY_HTTP_ALLOWED_ORIGINS" default:"*"`
}

type DBConfig struct {
	DSN    string `envconfig:"COURSEPAY_DB_DSN"`
	Driver string `envconfig:"COURSEPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COURSEPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"COURSEPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COURSEPAY_DB_USER"`
	LegacyPassword string `envconfig:"COURSEPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"COURSEPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"COURSEPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURSEPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURSEPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURSEPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURSEPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery is the duration above which a statement is logged at warn.
	SlowQuery       time.Duration `envconfig:"COURSEPAY_DB_SLOW_QUERY" default:"250ms"`
	ConnectAttempts uint64        `envconfig:"COURSEPAY_DB_CONNECT_ATTEMPTS" default:"5"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURSEPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COURSEPAY_REDIS_ADDR"`
	Password     string        `envconfig:"COURSEPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"COURSEPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COURSEPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURSEPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURSEPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURSEPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURSEPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"COURSEPAY_REDIS_NAMESPACE" default:"cp"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COURSEPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COURSEPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COURSEPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COURSEPAY_AUTO_MIGRATE" default:"false"`

	// RefundCancelsEnrollment toggles the refund policy on linked enrollments.
	RefundCancelsEnrollment bool `envconfig:"COURSEPAY_REFUND_CANCELS_ENROLLMENT" default:"true"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL  time.Duration `envconfig:"COURSEPAY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	CheckoutIdempotencyTTL time.Duration `envconfig:"COURSEPAY_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

type StatusRateLimitConfig struct {
	Window time.Duration `envconfig:"COURSEPAY_STATUS_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"COURSEPAY_STATUS_RATE_LIMIT" default:"30"`
}

type GatewayConfig struct {
	Provider   string `envconfig:"COURSEPAY_GATEWAY_PROVIDER" default:"sandbox"`
	SuccessURL string `envconfig:"COURSEPAY_GATEWAY_SUCCESS_URL" default:"http://localhost:3000/payment/success"`
	CancelURL  string `envconfig:"COURSEPAY_GATEWAY_CANCEL_URL" default:"http://localhost:3000/payment/cancel"`
	Currency   string `envconfig:"COURSEPAY_GATEWAY_CURRENCY" default:"COP"`
}

// ProviderName returns the normalized provider name.
func (g GatewayConfig) ProviderName() string {
	return strings.ToLower(strings.TrimSpace(g.Provider))
}

func (g GatewayConfig) validate() error {
	switch g.ProviderName() {
	case "stripe", "square", "razorpay", "sandbox":
	default:
		return fmt.Errorf("%s must be one of stripe, square, razorpay, sandbox (got %q)", EnvGatewayProvider, g.Provider)
	}
	if _, err := url.Parse(g.SuccessURL); err != nil || strings.TrimSpace(g.SuccessURL) == "" {
		return fmt.Errorf("%s must be a valid url", EnvGatewaySuccessURL)
	}
	return nil
}

type StripeConfig struct {
	APIKey string `envconfig:"COURSEPAY_STRIPE_API_KEY"`
	Secret string `envconfig:"COURSEPAY_STRIPE_SECRET"`
	Env    string `envconfig:"COURSEPAY_STRIPE_ENV" default:"test"`
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
	AccessToken     string `envconfig:"COURSEPAY_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"COURSEPAY_SQUARE_WEBHOOK_SECRET"`
	WebhookURL      string `envconfig:"COURSEPAY_SQUARE_WEBHOOK_URL"`
	LocationID      string `envconfig:"COURSEPAY_SQUARE_LOCATION_ID"`
	DefaultSourceID string `envconfig:"COURSEPAY_SQUARE_SOURCE_ID" default:"EXTERNAL"`
	Env             string `envconfig:"COURSEPAY_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type RazorpayConfig struct {
	KeyID         string `envconfig:"COURSEPAY_RAZORPAY_KEY_ID"`
	KeySecret     string `envconfig:"COURSEPAY_RAZORPAY_KEY_SECRET"`
	WebhookSecret string `envconfig:"COURSEPAY_RAZORPAY_WEBHOOK_SECRET"`
}

type SandboxConfig struct {
	// SettleAfter is the number of status checks a sandbox charge stays pending.
	SettleAfter int    `envconfig:"COURSEPAY_SANDBOX_SETTLE_AFTER" default:"1"`
	Outcome     string `envconfig:"COURSEPAY_SANDBOX_OUTCOME" default:"completed"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"COURSEPAY_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"COURSEPAY_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	PaymentsTopic             string `envconfig:"COURSEPAY_PUBSUB_PAYMENTS_TOPIC" default:"coursepay-payment-events"`
	NotificationsSubscription string `envconfig:"COURSEPAY_PUBSUB_NOTIFICATIONS_SUBSCRIPTION" default:"coursepay-notifications"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"COURSEPAY_KAFKA_BROKERS" default:"localhost:9092"`
	Topic        string        `envconfig:"COURSEPAY_KAFKA_TOPIC" default:"coursepay.payment-events"`
	WriteTimeout time.Duration `envconfig:"COURSEPAY_KAFKA_WRITE_TIMEOUT" default:"10s"`
	GroupID      string        `envconfig:"COURSEPAY_KAFKA_GROUP_ID" default:"coursepay-notifications"`
}

const (
	EventsTransportNone   = "none"
	EventsTransportPubSub = "pubsub"
	EventsTransportKafka  = "kafka"
)

type EventsConfig struct {
	Transport string `envconfig:"COURSEPAY_EVENTS_TRANSPORT" default:"none"`
}

// TransportName returns the normalized transport name.
func (e EventsConfig) TransportName() string {
	t := strings.ToLower(strings.TrimSpace(e.Transport))
	if t == "" {
		return EventsTransportNone
	}
	return t
}

func (e EventsConfig) validate() error {
	switch e.TransportName() {
	case EventsTransportNone, EventsTransportPubSub, EventsTransportKafka:
		return nil
	default:
		return fmt.Errorf("%s must be one of none, pubsub, kafka (got %q)", EnvEventsTransport, e.Transport)
	}
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COURSEPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COURSEPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COURSEPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"COURSEPAY_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"COURSEPAY_SENDGRID_FROM_EMAIL"`
}

type SMTPConfig struct {
	Host     string `envconfig:"COURSEPAY_SMTP_HOST"`
	Port     int    `envconfig:"COURSEPAY_SMTP_PORT" default:"587"`
	Username string `envconfig:"COURSEPAY_SMTP_USERNAME"`
	Password string `envconfig:"COURSEPAY_SMTP_PASSWORD"`
	From     string `envconfig:"COURSEPAY_SMTP_FROM"`
}

type ReconcileConfig struct {
	Interval    time.Duration `envconfig:"COURSEPAY_RECONCILE_INTERVAL" default:"5m"`
	MinAge      time.Duration `envconfig:"COURSEPAY_RECONCILE_MIN_AGE" default:"2m"`
	ExpireAfter time.Duration `envconfig:"COURSEPAY_RECONCILE_EXPIRE_AFTER" default:"48h"`
	BatchSize   int           `envconfig:"COURSEPAY_RECONCILE_BATCH_SIZE" default:"100"`
	LockTTL     time.Duration `envconfig:"COURSEPAY_RECONCILE_LOCK_TTL" default:"4m"`

	OutboxRetention time.Duration `envconfig:"COURSEPAY_OUTBOX_RETENTION" default:"720h"`
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
