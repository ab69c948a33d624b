package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	Queue         QueueConfig
	Worker        WorkerConfig
	Sync          SyncConfig
	Notifications NotificationsConfig
	Gateway       GatewayConfig
	Cron          CronConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Shopify       ShopifyConfig
	HTTP          HTTPConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
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
	Env          string `envconfig:"BRANDPULSE_APP_ENV" required:"true"`
	Port         string `envconfig:"BRANDPULSE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BRANDPULSE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BRANDPULSE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind        string `envconfig:"BRANDPULSE_SERVICE_KIND" default:"api"`
	MetricsPort string `envconfig:"BRANDPULSE_METRICS_PORT" default:"9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"BRANDPULSE_DB_DSN"`
	Driver string `envconfig:"BRANDPULSE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BRANDPULSE_DB_HOST"`
	LegacyPort     int    `envconfig:"BRANDPULSE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BRANDPULSE_DB_USER"`
	LegacyPassword string `envconfig:"BRANDPULSE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BRANDPULSE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BRANDPULSE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BRANDPULSE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BRANDPULSE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BRANDPULSE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BRANDPULSE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	WarmTimeout     time.Duration `envconfig:"BRANDPULSE_DB_WARM_TIMEOUT" default:"3s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BRANDPULSE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BRANDPULSE_REDIS_ADDR"`
	Password     string        `envconfig:"BRANDPULSE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BRANDPULSE_REDIS_DB" default:"0"`
	Namespace    string        `envconfig:"BRANDPULSE_REDIS_NAMESPACE" default:"bp"`
	PoolSize     int           `envconfig:"BRANDPULSE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BRANDPULSE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BRANDPULSE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BRANDPULSE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BRANDPULSE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// QueueConfig holds the per-queue retry and retention policies.
type QueueConfig struct {
	CommerceAttempts int           `envconfig:"BRANDPULSE_QUEUE_COMMERCE_ATTEMPTS" default:"5"`
	CommerceBackoff  time.Duration `envconfig:"BRANDPULSE_QUEUE_COMMERCE_BACKOFF" default:"2s"`
	CommerceLease    time.Duration `envconfig:"BRANDPULSE_QUEUE_COMMERCE_LEASE" default:"30s"`

	MetricsAttempts int           `envconfig:"BRANDPULSE_QUEUE_METRICS_ATTEMPTS" default:"3"`
	MetricsBackoff  time.Duration `envconfig:"BRANDPULSE_QUEUE_METRICS_BACKOFF" default:"5s"`
	MetricsLease    time.Duration `envconfig:"BRANDPULSE_QUEUE_METRICS_LEASE" default:"30s"`
	MetricsDelay    time.Duration `envconfig:"BRANDPULSE_QUEUE_METRICS_DELAY" default:"5s"`

	SyncAttempts int           `envconfig:"BRANDPULSE_QUEUE_SYNC_ATTEMPTS" default:"3"`
	SyncBackoff  time.Duration `envconfig:"BRANDPULSE_QUEUE_SYNC_BACKOFF" default:"30s"`
	SyncLease    time.Duration `envconfig:"BRANDPULSE_QUEUE_SYNC_LEASE" default:"5m"`

	CompletedMaxAge   time.Duration `envconfig:"BRANDPULSE_QUEUE_COMPLETED_MAX_AGE" default:"1h"`
	CompletedMaxCount int64         `envconfig:"BRANDPULSE_QUEUE_COMPLETED_MAX_COUNT" default:"1000"`
	FailedMaxAge      time.Duration `envconfig:"BRANDPULSE_QUEUE_FAILED_MAX_AGE" default:"168h"`
	FailedMaxCount    int64         `envconfig:"BRANDPULSE_QUEUE_FAILED_MAX_COUNT" default:"5000"`
}

type WorkerConfig struct {
	CommerceConcurrency int           `envconfig:"BRANDPULSE_WORKER_COMMERCE_CONCURRENCY" default:"10"`
	MetricsConcurrency  int           `envconfig:"BRANDPULSE_WORKER_METRICS_CONCURRENCY" default:"5"`
	SyncConcurrency     int           `envconfig:"BRANDPULSE_WORKER_SYNC_CONCURRENCY" default:"1"`
	RateLimit           int           `envconfig:"BRANDPULSE_WORKER_RATE_LIMIT" default:"50"`
	RateWindow          time.Duration `envconfig:"BRANDPULSE_WORKER_RATE_WINDOW" default:"1s"`
	SyncRateLimit       int           `envconfig:"BRANDPULSE_WORKER_SYNC_RATE_LIMIT" default:"2"`
	PollInterval        time.Duration `envconfig:"BRANDPULSE_WORKER_POLL_INTERVAL" default:"500ms"`
	StalledInterval     time.Duration `envconfig:"BRANDPULSE_WORKER_STALLED_INTERVAL" default:"30s"`
	ShutdownTimeout     time.Duration `envconfig:"BRANDPULSE_WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type SyncConfig struct {
	LockTTL   time.Duration `envconfig:"BRANDPULSE_SYNC_LOCK_TTL" default:"30m"`
	ChunkSize int           `envconfig:"BRANDPULSE_SYNC_CHUNK_SIZE" default:"100"`
	PageSize  int           `envconfig:"BRANDPULSE_SYNC_PAGE_SIZE" default:"250"`
}

type NotificationsConfig struct {
	BrandChannel      string `envconfig:"BRANDPULSE_NOTIFICATIONS_BRAND_CHANNEL" default:"brand-notification"`
	UserChannel       string `envconfig:"BRANDPULSE_NOTIFICATIONS_USER_CHANNEL" default:"user-notification"`
	EnableUserChannel bool   `envconfig:"BRANDPULSE_NOTIFICATIONS_ENABLE_USER_CHANNEL" default:"false"`
}

type GatewayConfig struct {
	SendBuffer     int           `envconfig:"BRANDPULSE_GATEWAY_SEND_BUFFER" default:"256"`
	PingInterval   time.Duration `envconfig:"BRANDPULSE_GATEWAY_PING_INTERVAL" default:"30s"`
	WriteTimeout   time.Duration `envconfig:"BRANDPULSE_GATEWAY_WRITE_TIMEOUT" default:"10s"`
	AllowedOrigins []string      `envconfig:"BRANDPULSE_GATEWAY_ALLOWED_ORIGINS"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BRANDPULSE_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"BRANDPULSE_CRON_LOCK_TTL" default:"10m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BRANDPULSE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BRANDPULSE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BRANDPULSE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CommerceTopic        string `envconfig:"BRANDPULSE_PUBSUB_COMMERCE_TOPIC" default:"bp-commerce-events"`
	CommerceSubscription string `envconfig:"BRANDPULSE_PUBSUB_COMMERCE_SUBSCRIPTION"`
	MaxOutstanding       int    `envconfig:"BRANDPULSE_PUBSUB_MAX_OUTSTANDING" default:"100"`
}

type ShopifyConfig struct {
	APIVersion         string        `envconfig:"BRANDPULSE_SHOPIFY_API_VERSION" default:"2024-01"`
	WebhookSecret      string        `envconfig:"BRANDPULSE_SHOPIFY_WEBHOOK_SECRET"`
	Timeout            time.Duration `envconfig:"BRANDPULSE_SHOPIFY_TIMEOUT" default:"15s"`
	BreakerMaxFailures uint32        `envconfig:"BRANDPULSE_SHOPIFY_BREAKER_MAX_FAILURES" default:"5"`
	BreakerCooldown    time.Duration `envconfig:"BRANDPULSE_SHOPIFY_BREAKER_COOLDOWN" default:"30s"`
}

type HTTPConfig struct {
	CORSOrigins       []string      `envconfig:"BRANDPULSE_HTTP_CORS_ORIGINS"`
	ReadHeaderTimeout time.Duration `envconfig:"BRANDPULSE_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownTimeout   time.Duration `envconfig:"BRANDPULSE_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	SyncTriggerLimit  int           `envconfig:"BRANDPULSE_HTTP_SYNC_TRIGGER_LIMIT" default:"5"`
	SyncTriggerWindow time.Duration `envconfig:"BRANDPULSE_HTTP_SYNC_TRIGGER_WINDOW" default:"1h"`
	MaxBodyBytes      int64         `envconfig:"BRANDPULSE_HTTP_MAX_BODY_BYTES" default:"1048576"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BRANDPULSE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"BRANDPULSE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
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
