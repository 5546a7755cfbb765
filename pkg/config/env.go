package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "BLOCKWEAR"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside struct tags (tests, error
// messages). Keep these in sync with the envconfig tags above.
const (
	EnvAppEnv   = "BLOCKWEAR_APP_ENV"
	EnvPort     = "BLOCKWEAR_APP_PORT"
	EnvDBDSN    = "BLOCKWEAR_DB_DSN"
	EnvDBHost   = "BLOCKWEAR_DB_HOST"
	EnvDBUser   = "BLOCKWEAR_DB_USER"
	EnvDBName   = "BLOCKWEAR_DB_NAME"
	EnvRedisURL = "BLOCKWEAR_REDIS_URL"

	EnvJWTSecret = "BLOCKWEAR_JWT_SECRET"
	EnvJWTIssuer = "BLOCKWEAR_JWT_ISSUER"

	EnvGCPProjectID = "BLOCKWEAR_GCP_PROJECT_ID"

	EnvPubSubPaymentsTopic   = "BLOCKWEAR_PUBSUB_PAYMENTS_TOPIC"
	EnvPubSubPaymentsSub     = "BLOCKWEAR_PUBSUB_PAYMENTS_SUBSCRIPTION"
	EnvPubSubNotificationSub = "BLOCKWEAR_PUBSUB_NOTIFICATION_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
