package config

const EnvPrefix = "ORIGINHASH"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageDriverLocal = "local"
	StorageDriverGCS   = "gcs"
	StorageDriverS3    = "s3"

	LedgerDriverEVM    = "evm"
	LedgerDriverFabric = "fabric"
)

// Environment variable names referenced by validation messages and tests.
const (
	EnvAppEnv   = "ORIGINHASH_APP_ENV"
	EnvPort     = "ORIGINHASH_APP_PORT"
	EnvLogLevel = "ORIGINHASH_LOG_LEVEL"

	EnvDBDSN  = "ORIGINHASH_DB_DSN"
	EnvDBHost = "ORIGINHASH_DB_HOST"
	EnvDBUser = "ORIGINHASH_DB_USER"
	EnvDBName = "ORIGINHASH_DB_NAME"

	EnvRedisURL = "ORIGINHASH_REDIS_URL"

	EnvJWTSecret  = "ORIGINHASH_JWT_SECRET"
	EnvJWTIssuer  = "ORIGINHASH_JWT_ISSUER"
	EnvJWTExpMins = "ORIGINHASH_JWT_EXPIRATION_MINUTES"

	EnvStorageDriver    = "ORIGINHASH_STORAGE_DRIVER"
	EnvStorageLocalDir  = "ORIGINHASH_STORAGE_LOCAL_DIR"
	EnvStorageGCSBucket = "ORIGINHASH_STORAGE_GCS_BUCKET"
	EnvStorageS3Bucket  = "ORIGINHASH_STORAGE_S3_BUCKET"

	EnvLedgerDriver         = "ORIGINHASH_LEDGER_DRIVER"
	EnvLedgerConfirmTimeout = "ORIGINHASH_LEDGER_CONFIRM_TIMEOUT"

	EnvVerificationFee = "ORIGINHASH_VERIFICATION_FEE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
