package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	PaymentLimit  PaymentRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	CORS          CORSConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Storage       StorageConfig
	IPFS          IPFSConfig
	Ledger        LedgerConfig
	Verification  VerificationConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"ORIGINHASH_APP_ENV" required:"true"`
	Port          string `envconfig:"ORIGINHASH_APP_PORT" required:"true"`
	LogLevel      string `envconfig:"ORIGINHASH_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"ORIGINHASH_LOG_WARN_STACK" default:"false"`
	PublicBaseURL string `envconfig:"ORIGINHASH_PUBLIC_BASE_URL" default:"http://localhost:8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORIGINHASH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORIGINHASH_DB_DSN"`
	Driver string `envconfig:"ORIGINHASH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORIGINHASH_DB_HOST"`
	LegacyPort     int    `envconfig:"ORIGINHASH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORIGINHASH_DB_USER"`
	LegacyPassword string `envconfig:"ORIGINHASH_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORIGINHASH_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORIGINHASH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORIGINHASH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORIGINHASH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORIGINHASH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORIGINHASH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORIGINHASH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORIGINHASH_REDIS_ADDR"`
	Password     string        `envconfig:"ORIGINHASH_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORIGINHASH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORIGINHASH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORIGINHASH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORIGINHASH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORIGINHASH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORIGINHASH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ORIGINHASH_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORIGINHASH_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORIGINHASH_JWT_EXPIRATION_MINUTES" default:"1440"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"ORIGINHASH_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"ORIGINHASH_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"ORIGINHASH_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"ORIGINHASH_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"ORIGINHASH_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"ORIGINHASH_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"ORIGINHASH_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"ORIGINHASH_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"ORIGINHASH_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"ORIGINHASH_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"ORIGINHASH_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

// PaymentRateLimitConfig throttles payment attempts per client and per certificate.
type PaymentRateLimitConfig struct {
	Window           time.Duration `envconfig:"ORIGINHASH_PAYMENT_RATE_LIMIT_WINDOW" default:"10m"`
	IPLimit          int           `envconfig:"ORIGINHASH_PAYMENT_RATE_LIMIT_IP_LIMIT" default:"30"`
	CertificateLimit int           `envconfig:"ORIGINHASH_PAYMENT_RATE_LIMIT_CERTIFICATE_LIMIT" default:"5"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORIGINHASH_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORIGINHASH_AUTO_MIGRATE" default:"false"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ORIGINHASH_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxAge         int      `envconfig:"ORIGINHASH_CORS_MAX_AGE" default:"300"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORIGINHASH_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ORIGINHASH_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORIGINHASH_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CertificateTopic        string `envconfig:"ORIGINHASH_PUBSUB_CERTIFICATE_TOPIC" default:"oh-certificate-events"`
	CertificateSubscription string `envconfig:"ORIGINHASH_PUBSUB_CERTIFICATE_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORIGINHASH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORIGINHASH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORIGINHASH_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StorageConfig struct {
	Driver   string `envconfig:"ORIGINHASH_STORAGE_DRIVER" default:"local"`
	LocalDir string `envconfig:"ORIGINHASH_STORAGE_LOCAL_DIR" default:"./data/artifacts"`

	GCSBucket          string `envconfig:"ORIGINHASH_STORAGE_GCS_BUCKET"`
	GCSCredentialsFile string `envconfig:"ORIGINHASH_STORAGE_GCS_CREDENTIALS_FILE"`

	S3Bucket       string `envconfig:"ORIGINHASH_STORAGE_S3_BUCKET"`
	S3Region       string `envconfig:"ORIGINHASH_STORAGE_S3_REGION" default:"us-east-1"`
	S3Endpoint     string `envconfig:"ORIGINHASH_STORAGE_S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"ORIGINHASH_STORAGE_S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"ORIGINHASH_STORAGE_S3_SECRET_KEY"`
	S3UsePathStyle bool   `envconfig:"ORIGINHASH_STORAGE_S3_USE_PATH_STYLE" default:"false"`
}

func (s StorageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case StorageDriverLocal:
		if s.LocalDir == "" {
			return fmt.Errorf("%s is required for the local storage driver", EnvStorageLocalDir)
		}
	case StorageDriverGCS:
		if s.GCSBucket == "" {
			return fmt.Errorf("%s is required for the gcs storage driver", EnvStorageGCSBucket)
		}
	case StorageDriverS3:
		if s.S3Bucket == "" {
			return fmt.Errorf("%s is required for the s3 storage driver", EnvStorageS3Bucket)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", s.Driver)
	}
	return nil
}

type IPFSConfig struct {
	APIBaseURL   string        `envconfig:"ORIGINHASH_IPFS_API_BASE_URL" default:"https://api.pinata.cloud"`
	GatewayURL   string        `envconfig:"ORIGINHASH_IPFS_GATEWAY_URL" default:"https://gateway.pinata.cloud"`
	JWT          string        `envconfig:"ORIGINHASH_PINATA_JWT"`
	APIKey       string        `envconfig:"ORIGINHASH_PINATA_API_KEY"`
	APISecret    string        `envconfig:"ORIGINHASH_PINATA_SECRET_API_KEY"`
	Timeout      time.Duration `envconfig:"ORIGINHASH_IPFS_TIMEOUT" default:"60s"`
	RetryCount   int           `envconfig:"ORIGINHASH_IPFS_RETRY_COUNT" default:"2"`
	RetryWait    time.Duration `envconfig:"ORIGINHASH_IPFS_RETRY_WAIT" default:"500ms"`
	CIDVersion   int           `envconfig:"ORIGINHASH_IPFS_CID_VERSION" default:"1"`
	ValidateAuth bool          `envconfig:"ORIGINHASH_IPFS_VALIDATE_AUTH" default:"false"`
}

type LedgerConfig struct {
	Driver         string        `envconfig:"ORIGINHASH_LEDGER_DRIVER" default:"evm"`
	ConfirmTimeout time.Duration `envconfig:"ORIGINHASH_LEDGER_CONFIRM_TIMEOUT" default:"120s"`
	QueryTimeout   time.Duration `envconfig:"ORIGINHASH_LEDGER_QUERY_TIMEOUT" default:"15s"`

	EVMRPCURL          string `envconfig:"ORIGINHASH_LEDGER_EVM_RPC_URL"`
	EVMContractAddress string `envconfig:"ORIGINHASH_LEDGER_EVM_CONTRACT_ADDRESS"`
	EVMPrivateKey      string `envconfig:"ORIGINHASH_LEDGER_EVM_PRIVATE_KEY"`
	EVMChainID         int64  `envconfig:"ORIGINHASH_LEDGER_EVM_CHAIN_ID" default:"11155111"`
	EVMGasLimit        uint64 `envconfig:"ORIGINHASH_LEDGER_EVM_GAS_LIMIT" default:"0"`

	FabricPeerEndpoint string `envconfig:"ORIGINHASH_LEDGER_FABRIC_PEER_ENDPOINT"`
	FabricGatewayPeer  string `envconfig:"ORIGINHASH_LEDGER_FABRIC_GATEWAY_PEER"`
	FabricTLSCertPath  string `envconfig:"ORIGINHASH_LEDGER_FABRIC_TLS_CERT_PATH"`
	FabricMSPID        string `envconfig:"ORIGINHASH_LEDGER_FABRIC_MSP_ID" default:"Org1MSP"`
	FabricCertPath     string `envconfig:"ORIGINHASH_LEDGER_FABRIC_CERT_PATH"`
	FabricKeyPath      string `envconfig:"ORIGINHASH_LEDGER_FABRIC_KEY_PATH"`
	FabricChannel      string `envconfig:"ORIGINHASH_LEDGER_FABRIC_CHANNEL" default:"mychannel"`
	FabricChaincode    string `envconfig:"ORIGINHASH_LEDGER_FABRIC_CHAINCODE" default:"certanchor"`
}

func (l LedgerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Driver)) {
	case LedgerDriverEVM, LedgerDriverFabric:
	default:
		return fmt.Errorf("unsupported ledger driver %q", l.Driver)
	}
	if l.ConfirmTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvLedgerConfirmTimeout)
	}
	return nil
}

type VerificationConfig struct {
	Fee        string        `envconfig:"ORIGINHASH_VERIFICATION_FEE" default:"10.00"`
	Currency   string        `envconfig:"ORIGINHASH_VERIFICATION_CURRENCY" default:"USD"`
	StuckAfter time.Duration `envconfig:"ORIGINHASH_VERIFICATION_STUCK_AFTER" default:"10m"`
	LockTTL    time.Duration `envconfig:"ORIGINHASH_VERIFICATION_LOCK_TTL" default:"5m"`
}

// FeeAmount parses the configured verification fee.
func (v VerificationConfig) FeeAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(v.Fee))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", EnvVerificationFee, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvVerificationFee)
	}
	return amount, nil
}

type CronConfig struct {
	Interval  time.Duration `envconfig:"ORIGINHASH_CRON_INTERVAL" default:"1m"`
	LockTTL   time.Duration `envconfig:"ORIGINHASH_CRON_LOCK_TTL" default:"5m"`
	BatchSize int           `envconfig:"ORIGINHASH_CRON_BATCH_SIZE" default:"25"`
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
