package config

const (
	EnvPrefix = "BRANDPULSE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "BRANDPULSE_APP_ENV"
	EnvPort     = "BRANDPULSE_APP_PORT"
	EnvDBDSN    = "BRANDPULSE_DB_DSN"
	EnvDBHost   = "BRANDPULSE_DB_HOST"
	EnvDBUser   = "BRANDPULSE_DB_USER"
	EnvDBName   = "BRANDPULSE_DB_NAME"
	EnvRedisURL = "BRANDPULSE_REDIS_URL"

	EnvPubSubCommerceSub = "BRANDPULSE_PUBSUB_COMMERCE_SUBSCRIPTION"
	EnvGCPProjectID      = "BRANDPULSE_GCP_PROJECT_ID"
	EnvMetricsDelay      = "BRANDPULSE_QUEUE_METRICS_DELAY"
	EnvUserChannel       = "BRANDPULSE_NOTIFICATIONS_ENABLE_USER_CHANNEL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
