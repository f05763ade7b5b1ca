package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	platformstrings "bluecarbon/pkg/platform/strings"
)

// Config is the full process configuration, grouped by concern.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	OTP       OTPConfig
	SMTP      SMTPConfig
	Storage   StorageConfig
	Ledger    LedgerConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	LogLevel  slog.Level
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr             string
	JWTSigningKey    string
	JWTIssuer        string
	SessionTTL       time.Duration
	AdminSetupSecret string
	RequestTimeout   time.Duration
	AllowedOrigins   []string
}

// DatabaseConfig configures the Postgres pool. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OTPConfig configures challenge lifetime, backing store and issuance throttling.
type OTPConfig struct {
	TTL        time.Duration
	Store      string // postgres | redis | memory
	RateWindow time.Duration
	RateMax    int
	Cooldown   time.Duration
	PurgeEvery time.Duration
}

// SMTPConfig configures outbound mail. An empty host selects the log notifier.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// StorageConfig configures the S3-compatible evidence bucket.
type StorageConfig struct {
	Endpoint       string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Bucket         string
	UploadURLTTL   time.Duration
	ForcePathStyle bool
}

// LedgerConfig configures the credit contract client. An empty RPC URL selects
// the in-memory ledger.
type LedgerConfig struct {
	RPCURL         string
	PrivateKey     string
	ContractAddr   string
	ChainID        int64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// Consecutive submission failures before minting is short-circuited.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// KafkaConfig configures the audit outbox relay. No brokers means audit events
// are only logged and stored.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	RelayEvery time.Duration
}

// RateLimitConfig bounds unauthenticated requests per client IP. A zero
// request count disables throttling.
type RateLimitConfig struct {
	AuthRequests int
	AuthWindow   time.Duration
}

// Sensitive defaults only make sense for local development.
const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds the config from environment variables, loading a .env file
// first when one is present.
func FromEnv() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		Server: Server{
			Addr:             getEnv("ADDR", ":8080"),
			JWTSigningKey:    getEnv("JWT_SIGNING_KEY", devSigningKey),
			JWTIssuer:        getEnv("JWT_ISSUER", "bluecarbon-registry"),
			SessionTTL:       getDuration("SESSION_TTL", 7*24*time.Hour),
			AdminSetupSecret: os.Getenv("ADMIN_SETUP_SECRET"),
			RequestTimeout:   getDuration("REQUEST_TIMEOUT", 3*time.Minute),
			AllowedOrigins:   platformstrings.SplitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		OTP: OTPConfig{
			TTL:        getDuration("OTP_TTL", 10*time.Minute),
			Store:      getEnv("OTP_STORE", "postgres"),
			RateWindow: getDuration("OTP_RATE_WINDOW", 15*time.Minute),
			RateMax:    getInt("OTP_RATE_MAX", 5),
			Cooldown:   getDuration("OTP_RATE_COOLDOWN", 30*time.Second),
			PurgeEvery: getDuration("OTP_PURGE_INTERVAL", 10*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "465"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("SMTP_FROM"),
		},
		Storage: StorageConfig{
			Endpoint:       os.Getenv("B2_ENDPOINT"),
			Region:         getEnv("B2_REGION", "us-west-004"),
			AccessKeyID:    os.Getenv("B2_KEY_ID"),
			SecretKey:      os.Getenv("B2_APPLICATION_KEY"),
			Bucket:         os.Getenv("B2_BUCKET_NAME"),
			UploadURLTTL:   getDuration("UPLOAD_URL_TTL", 10*time.Minute),
			ForcePathStyle: getEnv("B2_FORCE_PATH_STYLE", "true") == "true",
		},
		Ledger: LedgerConfig{
			RPCURL:          os.Getenv("SEPOLIA_RPC_URL"),
			PrivateKey:      os.Getenv("SEPOLIA_PRIVATE_KEY"),
			ContractAddr:    os.Getenv("SEPOLIA_CONTRACT_ADDRESS"),
			ChainID:         int64(getInt("LEDGER_CHAIN_ID", 11155111)),
			ConfirmTimeout:  getDuration("LEDGER_CONFIRM_TIMEOUT", 2*time.Minute),
			PollInterval:    getDuration("LEDGER_POLL_INTERVAL", 2*time.Second),
			BreakerFailures: getInt("LEDGER_BREAKER_FAILURES", 5),
			BreakerCooldown: getDuration("LEDGER_BREAKER_COOLDOWN", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    platformstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "bluecarbon.audit"),
			RelayEvery: getDuration("AUDIT_RELAY_INTERVAL", time.Second),
		},
		RateLimit: RateLimitConfig{
			AuthRequests: getInt("RATE_LIMIT_AUTH_REQUESTS", 20),
			AuthWindow:   getDuration("RATE_LIMIT_AUTH_WINDOW", time.Minute),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}
}

// UsesDevSigningKey reports whether the JWT key was left at its development default.
func (c Config) UsesDevSigningKey() bool {
	return c.Server.JWTSigningKey == devSigningKey
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
