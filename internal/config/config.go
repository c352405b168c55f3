package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreBackendDistributed = "distributed"
	StoreBackendMemory      = "memory"
)

type Config struct {
	Environment  string
	ServiceName  string
	StoreBackend string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Storage       StorageConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Auth          AuthConfig
	Verification  VerificationConfig
	Geo           GeoConfig
}

type ServerConfig struct {
	Port              int
	TLSPort           int
	EnableTLS         bool
	AutoCert          bool
	Domain            string
	CertFile          string
	KeyFile           string
	AutoCertDir       string
	Email             string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerMinute int
	AllowedOrigins    []string
}

type LoggingConfig struct {
	Level  string
	Format string
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
	Enabled     bool
	Brokers     []string
	OTPTopic    string
	EventsTopic string
}

type ElasticsearchConfig struct {
	Enabled     bool
	URL         string
	Username    string
	Password    string
	ReviewIndex string
}

type ClickhouseConfig struct {
	Enabled  bool
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

type StorageConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	UsePathStyle  bool
}

type HashingConfig struct {
	Algorithm         string
	ServerSalt        string
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// VerificationConfig carries every threshold of the merchant verification
// pipeline. Defaults match the production policy.
type VerificationConfig struct {
	OTPTTL                  time.Duration
	MaxConfirmAttempts      int
	MaxVerificationAttempts int
	Cooldown                time.Duration
	MaxAccountsPerDevice    int
	MaxAccountsPerPhone     int
	SendTimeout             time.Duration
	LocationToleranceKm     float64
	PositionTimeout         time.Duration
	PositionMaxAge          time.Duration
	HighAccuracy            bool
	DocumentMaxBytes        int64
	SelfieMaxBytes          int64
	SessionTTL              time.Duration
}

type GeoConfig struct {
	PrimaryURL  string
	FallbackURL string
	Timeout     time.Duration
	UserAgent   string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Environment:  v.GetString("ENVIRONMENT"),
		ServiceName:  v.GetString("SERVICE_NAME"),
		StoreBackend: v.GetString("STORE_BACKEND"),
		Server: ServerConfig{
			Port:              v.GetInt("SERVER_PORT"),
			TLSPort:           v.GetInt("SERVER_TLS_PORT"),
			EnableTLS:         v.GetBool("SERVER_ENABLE_TLS"),
			AutoCert:          v.GetBool("SERVER_AUTO_CERT"),
			Domain:            v.GetString("SERVER_DOMAIN"),
			CertFile:          v.GetString("SERVER_CERT_FILE"),
			KeyFile:           v.GetString("SERVER_KEY_FILE"),
			AutoCertDir:       v.GetString("SERVER_AUTO_CERT_DIR"),
			Email:             v.GetString("SERVER_ACME_EMAIL"),
			ReadTimeout:       v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:      v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:       v.GetDuration("SERVER_IDLE_TIMEOUT"),
			RequestsPerMinute: v.GetInt("SERVER_REQUESTS_PER_MINUTE"),
			AllowedOrigins:    splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Redis: RedisConfig{
			URL:      v.GetString("REDIS_URL"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitList(v.GetString("SCYLLA_NODES")),
			Keyspace: v.GetString("SCYLLA_KEYSPACE"),
			Username: v.GetString("SCYLLA_USERNAME"),
			Password: v.GetString("SCYLLA_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Enabled:     v.GetBool("KAFKA_ENABLED"),
			Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
			OTPTopic:    v.GetString("KAFKA_OTP_TOPIC"),
			EventsTopic: v.GetString("KAFKA_EVENTS_TOPIC"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:     v.GetBool("ELASTICSEARCH_ENABLED"),
			URL:         v.GetString("ELASTICSEARCH_URL"),
			Username:    v.GetString("ELASTICSEARCH_USERNAME"),
			Password:    v.GetString("ELASTICSEARCH_PASSWORD"),
			ReviewIndex: v.GetString("ELASTICSEARCH_REVIEW_INDEX"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  v.GetBool("CLICKHOUSE_ENABLED"),
			URL:      v.GetString("CLICKHOUSE_URL"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
		},
		KMS: KMSConfig{
			Enabled: v.GetBool("KMS_ENABLED"),
			KeyID:   v.GetString("KMS_KEY_ID"),
			Region:  v.GetString("AWS_REGION"),
		},
		Storage: StorageConfig{
			Bucket:        v.GetString("STORAGE_BUCKET"),
			Region:        v.GetString("AWS_REGION"),
			Endpoint:      v.GetString("STORAGE_ENDPOINT"),
			PublicBaseURL: v.GetString("STORAGE_PUBLIC_BASE_URL"),
			UsePathStyle:  v.GetBool("STORAGE_USE_PATH_STYLE"),
		},
		Hashing: HashingConfig{
			Algorithm:         v.GetString("HASH_ALGORITHM"),
			ServerSalt:        v.GetString("OTP_SERVER_SALT"),
			Argon2MemoryCost:  v.GetInt("ARGON2_MEMORY_COST"),
			Argon2TimeCost:    v.GetInt("ARGON2_TIME_COST"),
			Argon2Parallelism: v.GetInt("ARGON2_PARALLELISM"),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  v.GetInt("USER_BUCKETS"),
			EventBuckets: v.GetInt("EVENT_BUCKETS"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
		},
		Verification: VerificationConfig{
			OTPTTL:                  v.GetDuration("OTP_TTL"),
			MaxConfirmAttempts:      v.GetInt("OTP_MAX_CONFIRM_ATTEMPTS"),
			MaxVerificationAttempts: v.GetInt("MAX_VERIFICATION_ATTEMPTS"),
			Cooldown:                v.GetDuration("VERIFICATION_COOLDOWN"),
			MaxAccountsPerDevice:    v.GetInt("MAX_ACCOUNTS_PER_DEVICE"),
			MaxAccountsPerPhone:     v.GetInt("MAX_ACCOUNTS_PER_PHONE"),
			SendTimeout:             v.GetDuration("OTP_SEND_TIMEOUT"),
			LocationToleranceKm:     v.GetFloat64("LOCATION_TOLERANCE_KM"),
			PositionTimeout:         v.GetDuration("POSITION_TIMEOUT"),
			PositionMaxAge:          v.GetDuration("POSITION_MAX_AGE"),
			HighAccuracy:            v.GetBool("POSITION_HIGH_ACCURACY"),
			DocumentMaxBytes:        v.GetInt64("DOCUMENT_MAX_BYTES"),
			SelfieMaxBytes:          v.GetInt64("SELFIE_MAX_BYTES"),
			SessionTTL:              v.GetDuration("VERIFICATION_SESSION_TTL"),
		},
		Geo: GeoConfig{
			PrimaryURL:  v.GetString("GEOCODER_PRIMARY_URL"),
			FallbackURL: v.GetString("GEOCODER_FALLBACK_URL"),
			Timeout:     v.GetDuration("GEOCODER_TIMEOUT"),
			UserAgent:   v.GetString("GEOCODER_USER_AGENT"),
		},
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("SERVICE_NAME", "merchant-verification")
	v.SetDefault("STORE_BACKEND", StoreBackendDistributed)

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_TLS_PORT", 8443)
	v.SetDefault("SERVER_ENABLE_TLS", false)
	v.SetDefault("SERVER_AUTO_CERT", false)
	v.SetDefault("SERVER_AUTO_CERT_DIR", "./certs")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")
	v.SetDefault("SERVER_REQUESTS_PER_MINUTE", 120)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "https://*")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_POOL_SIZE", 50)

	v.SetDefault("SCYLLA_NODES", "localhost:9042")
	v.SetDefault("SCYLLA_KEYSPACE", "merchant_verification")

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_OTP_TOPIC", "verification.otp.dispatch")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "verification.events")

	v.SetDefault("ELASTICSEARCH_URL", "http://localhost:9200")
	v.SetDefault("ELASTICSEARCH_REVIEW_INDEX", "verification-review-queue")

	v.SetDefault("CLICKHOUSE_URL", "localhost:9000")
	v.SetDefault("CLICKHOUSE_DATABASE", "verification")

	v.SetDefault("AWS_REGION", "ap-south-1")
	v.SetDefault("STORAGE_BUCKET", "merchant-verification-artifacts")

	v.SetDefault("HASH_ALGORITHM", "sha256")
	v.SetDefault("ARGON2_MEMORY_COST", 64*1024)
	v.SetDefault("ARGON2_TIME_COST", 1)
	v.SetDefault("ARGON2_PARALLELISM", 2)

	v.SetDefault("USER_BUCKETS", 256)
	v.SetDefault("EVENT_BUCKETS", 64)

	v.SetDefault("JWT_ISSUER", "venue-marketplace-auth")

	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_CONFIRM_ATTEMPTS", 3)
	v.SetDefault("MAX_VERIFICATION_ATTEMPTS", 3)
	v.SetDefault("VERIFICATION_COOLDOWN", "24h")
	v.SetDefault("MAX_ACCOUNTS_PER_DEVICE", 2)
	v.SetDefault("MAX_ACCOUNTS_PER_PHONE", 1)
	v.SetDefault("OTP_SEND_TIMEOUT", "10s")
	v.SetDefault("LOCATION_TOLERANCE_KM", 0.5)
	v.SetDefault("POSITION_TIMEOUT", "10s")
	v.SetDefault("POSITION_MAX_AGE", "5m")
	v.SetDefault("POSITION_HIGH_ACCURACY", true)
	v.SetDefault("DOCUMENT_MAX_BYTES", 5*1024*1024)
	v.SetDefault("SELFIE_MAX_BYTES", 3*1024*1024)
	v.SetDefault("VERIFICATION_SESSION_TTL", "24h")

	v.SetDefault("GEOCODER_PRIMARY_URL", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("GEOCODER_FALLBACK_URL", "https://api.bigdatacloud.net/data/reverse-geocode-client")
	v.SetDefault("GEOCODER_TIMEOUT", "5s")
	v.SetDefault("GEOCODER_USER_AGENT", "merchant-verification/1.0")
}

// Validate reports settings that make the service unsafe to start.
func (c *Config) Validate() error {
	if c.Hashing.ServerSalt == "" {
		return fmt.Errorf("OTP_SERVER_SALT is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StoreBackend != StoreBackendDistributed && c.StoreBackend != StoreBackendMemory {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.IsProduction() && c.StoreBackend == StoreBackendMemory {
		return fmt.Errorf("memory store backend is not allowed in production")
	}
	if c.IsProduction() && !c.KMS.Enabled {
		return fmt.Errorf("KMS_ENABLED is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
