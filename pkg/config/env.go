package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	PaymentProviderPaygate = "paygate"
	PaymentProviderSquare  = "square"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"
)

const (
	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvDBDSN    = "STOREFRONT_DB_DSN"
	EnvDBHost   = "STOREFRONT_DB_HOST"
	EnvDBUser   = "STOREFRONT_DB_USER"
	EnvDBName   = "STOREFRONT_DB_NAME"
	EnvDBPass   = "STOREFRONT_DB_PASSWORD"
	EnvDBPort   = "STOREFRONT_DB_PORT"
	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret  = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer  = "STOREFRONT_JWT_ISSUER"
	EnvJWTExpMins = "STOREFRONT_JWT_EXPIRATION_MINUTES"

	EnvPaymentCardProvider = "STOREFRONT_PAYMENT_CARD_PROVIDER"
	EnvPaygateSecretKey    = "STOREFRONT_PAYGATE_SECRET_KEY"
	EnvPaymentQRTTL        = "STOREFRONT_PAYMENT_QR_TTL"
	EnvPaymentCardTTL      = "STOREFRONT_PAYMENT_CARD_TTL"
	EnvFeeHighTierRate     = "STOREFRONT_FEE_HIGH_TIER_RATE"
	EnvKafkaBrokers        = "STOREFRONT_KAFKA_BROKERS"
	EnvAutoMigrate         = "STOREFRONT_AUTO_MIGRATE"
	EnvDBDriver            = "STOREFRONT_DB_DRIVER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
