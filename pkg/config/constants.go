package config

// EnvPrefix is passed to envconfig; individual fields carry explicit
// CARDMINT_* tags so the prefix only matters for untagged fields.
const EnvPrefix = "cardmint"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CARDMINT_APP_ENV"
	EnvPort     = "CARDMINT_APP_PORT"
	EnvRedisURL = "CARDMINT_REDIS_URL"

	EnvDBDSN  = "CARDMINT_DB_DSN"
	EnvDBHost = "CARDMINT_DB_HOST"
	EnvDBUser = "CARDMINT_DB_USER"
	EnvDBName = "CARDMINT_DB_NAME"

	EnvJWTSecret = "CARDMINT_JWT_SECRET"
	EnvJWTIssuer = "CARDMINT_JWT_ISSUER"

	EnvGCPProjectID = "CARDMINT_GCP_PROJECT_ID"

	EnvCheckoutSuccessURL = "CARDMINT_CHECKOUT_SUCCESS_URL"
	EnvCheckoutCancelURL  = "CARDMINT_CHECKOUT_CANCEL_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
