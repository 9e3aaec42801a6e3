package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the service reads. Components receive it at
// construction; nothing reads the environment after LoadConfig returns.
type Config struct {
	Environment string

	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	OTP           OTPConfig
	Lockout       LockoutConfig
	RateLimit     RateLimitConfig
	Token         TokenConfig
	Biometric     BiometricConfig
	Notify        NotifyConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	EnableTLS   bool
	TLSPort     int
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers            []string
	SecurityEventTopic string
}

type ElasticsearchConfig struct {
	URL                string
	Username           string
	Password           string
	SecurityEventIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

// OTPConfig controls one-time passcode issuance and verification.
type OTPConfig struct {
	Length         int
	Expiry         time.Duration
	MaxAttempts    int
	ResendInterval time.Duration
}

// LockoutConfig controls the per-username failure counter and account lock.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

type RateLimitConfig struct {
	LoginLimit      int
	LoginWindow     time.Duration
	BiometricLimit  int
	BiometricWindow time.Duration
}

type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type BiometricConfig struct {
	ChallengeTTL      time.Duration
	MaxFailedAttempts int
	MaxDevicesPerUser int
}

type NotifyConfig struct {
	SMSProviderURL string
	SMSAPIKey      string
	SMSSenderName  string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	EmailFrom      string
	QueueSize      int
	Workers        int
	MaxRetries     int
	RetryBase      time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads .env (if present) and the process environment exactly once.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/waste-auth/autocert"),
				Email:        getEnv("SERVER_ADMIN_EMAIL", ""),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "waste_auth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:            splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
				SecurityEventTopic: getEnv("KAFKA_SECURITY_EVENT_TOPIC", "auth.security-events"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:                getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username:           getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:           getEnv("ELASTICSEARCH_PASSWORD", ""),
				SecurityEventIndex: getEnv("ELASTICSEARCH_SECURITY_EVENT_INDEX", "auth-security-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:9000"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "auth_audit"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "ap-southeast-1"),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			},
			Bucketing: BucketingConfig{
				UserBuckets:  getEnvInt("USER_BUCKETS", 256),
				EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			},
			OTP: OTPConfig{
				Length:         getEnvInt("OTP_LENGTH", 6),
				Expiry:         getEnvDuration("OTP_EXPIRY", 5*time.Minute),
				MaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 3),
				ResendInterval: getEnvDuration("OTP_RESEND_INTERVAL", time.Minute),
			},
			Lockout: LockoutConfig{
				Threshold: getEnvInt("LOCKOUT_THRESHOLD", 5),
				Window:    getEnvDuration("LOCKOUT_WINDOW", 30*time.Minute),
				Duration:  getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),
			},
			RateLimit: RateLimitConfig{
				LoginLimit:      getEnvInt("RATE_LIMIT_LOGIN", 10),
				LoginWindow:     getEnvDuration("RATE_LIMIT_LOGIN_WINDOW", 15*time.Minute),
				BiometricLimit:  getEnvInt("RATE_LIMIT_BIOMETRIC", 15),
				BiometricWindow: getEnvDuration("RATE_LIMIT_BIOMETRIC_WINDOW", 15*time.Minute),
			},
			Token: TokenConfig{
				Secret:     getEnv("JWT_SECRET", "dev-only-secret-change-me"),
				Issuer:     getEnv("JWT_ISSUER", "waste-auth-service"),
				AccessTTL:  getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
				RefreshTTL: getEnvDuration("REFRESH_TOKEN_TTL", 720*time.Hour),
			},
			Biometric: BiometricConfig{
				ChallengeTTL:      getEnvDuration("BIOMETRIC_CHALLENGE_TTL", 5*time.Minute),
				MaxFailedAttempts: getEnvInt("BIOMETRIC_MAX_FAILED_ATTEMPTS", 5),
				MaxDevicesPerUser: getEnvInt("BIOMETRIC_MAX_DEVICES", 5),
			},
			Notify: NotifyConfig{
				SMSProviderURL: getEnv("SMS_PROVIDER_URL", ""),
				SMSAPIKey:      getEnv("SMS_API_KEY", ""),
				SMSSenderName:  getEnv("SMS_SENDER_NAME", "WASTEAPP"),
				SMTPHost:       getEnv("SMTP_HOST", ""),
				SMTPPort:       getEnvInt("SMTP_PORT", 587),
				SMTPUsername:   getEnv("SMTP_USERNAME", ""),
				SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
				EmailFrom:      getEnv("EMAIL_FROM", "no-reply@wasteapp.local"),
				QueueSize:      getEnvInt("NOTIFY_QUEUE_SIZE", 1024),
				Workers:        getEnvInt("NOTIFY_WORKERS", 4),
				MaxRetries:     getEnvInt("NOTIFY_MAX_RETRIES", 3),
				RetryBase:      getEnvDuration("NOTIFY_RETRY_BASE", time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		}
	})
	return globalConfig
}

// Get returns the loaded config, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
