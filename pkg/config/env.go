package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "COURSEPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv     = "COURSEPAY_APP_ENV"
	EnvPort       = "COURSEPAY_APP_PORT"
	EnvLogLevel   = "COURSEPAY_LOG_LEVEL"
	EnvDBDSN      = "COURSEPAY_DB_DSN"
	EnvDBHost     = "COURSEPAY_DB_HOST"
	EnvDBUser     = "COURSEPAY_DB_USER"
	EnvDBName     = "COURSEPAY_DB_NAME"
	EnvRedisURL   = "COURSEPAY_REDIS_URL"
	EnvJWTSecret  = "COURSEPAY_JWT_SECRET"
	EnvJWTIssuer  = "COURSEPAY_JWT_ISSUER"
	EnvJWTExpMins = "COURSEPAY_JWT_EXPIRATION_MINUTES"

	EnvGatewayProvider   = "COURSEPAY_GATEWAY_PROVIDER"
	EnvGatewaySuccessURL = "COURSEPAY_GATEWAY_SUCCESS_URL"
	EnvEventsTransport   = "COURSEPAY_EVENTS_TRANSPORT"
	EnvReconcileMinAge   = "COURSEPAY_RECONCILE_MIN_AGE"
	EnvStatusRateLimit   = "COURSEPAY_STATUS_RATE_LIMIT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
