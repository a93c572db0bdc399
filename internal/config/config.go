package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant    string   `mapstructure:"DEFAULT_TENANT"`
	DefaultWorkspace string   `mapstructure:"DEFAULT_WORKSPACE"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	MigrationsDir    string   `mapstructure:"MIGRATIONS_DIR"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	BatchMaxFiles         int           `mapstructure:"BATCH_MAX_FILES"`
	BatchInterFileDelay   time.Duration `mapstructure:"BATCH_INTER_FILE_DELAY"`
	BatchSnapshotTTL      time.Duration `mapstructure:"BATCH_SNAPSHOT_TTL"`
	BatchStore            string        `mapstructure:"BATCH_STORE"`
	ValidationMaxPageSize int           `mapstructure:"VALIDATION_MAX_PAGE_SIZE"`
	MaxUploadBytes        int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`

	ExtractorURL     string        `mapstructure:"EXTRACTOR_URL"`
	ExtractorAPIKey  string        `mapstructure:"EXTRACTOR_API_KEY"`
	ExtractorTimeout time.Duration `mapstructure:"EXTRACTOR_TIMEOUT"`

	BlobBackend           string `mapstructure:"BLOB_BACKEND"`
	S3Bucket              string `mapstructure:"S3_BUCKET"`
	S3Region              string `mapstructure:"S3_REGION"`
	AWSAccessKeyID        string `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey    string `mapstructure:"AWS_SECRET_ACCESS_KEY"`
	AzureConnectionString string `mapstructure:"AZURE_STORAGE_CONNECTION_STRING"`
	AzureContainer        string `mapstructure:"AZURE_STORAGE_CONTAINER"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	RedisPrefix  string `mapstructure:"REDIS_PREFIX"`
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
	MongoURI     string `mapstructure:"MONGO_URI"`
	MongoDB      string `mapstructure:"MONGO_DATABASE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "DEFAULT_WORKSPACE", "CORS_ORIGINS", "MIGRATIONS_DIR", "SHUTDOWN_TIMEOUT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"BATCH_MAX_FILES", "BATCH_INTER_FILE_DELAY", "BATCH_SNAPSHOT_TTL", "BATCH_STORE",
	"VALIDATION_MAX_PAGE_SIZE", "MAX_UPLOAD_BYTES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"EXTRACTOR_URL", "EXTRACTOR_API_KEY", "EXTRACTOR_TIMEOUT",
	"BLOB_BACKEND", "S3_BUCKET", "S3_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"AZURE_STORAGE_CONNECTION_STRING", "AZURE_STORAGE_CONTAINER",
	"REDIS_URL", "REDIS_PREFIX", "AMQP_URL", "AMQP_EXCHANGE", "MONGO_URI", "MONGO_DATABASE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("DEFAULT_WORKSPACE", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("BATCH_MAX_FILES", 20)
	v.SetDefault("BATCH_INTER_FILE_DELAY", "2s")
	v.SetDefault("BATCH_SNAPSHOT_TTL", "1h")
	v.SetDefault("BATCH_STORE", "postgres")
	v.SetDefault("VALIDATION_MAX_PAGE_SIZE", 100)
	v.SetDefault("MAX_UPLOAD_BYTES", 25*1024*1024)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("EXTRACTOR_TIMEOUT", "120s")
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("AZURE_STORAGE_CONTAINER", "source-documents")
	v.SetDefault("REDIS_PREFIX", "extraction")
	v.SetDefault("AMQP_EXCHANGE", "extraction.events")
	v.SetDefault("MONGO_DATABASE", "extraction")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		log.Println("WARNING: running in development mode without AUTH_SIGNING_KEY;")
		log.Println("WARNING: unauthenticated requests are attributed to dev-user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks cross-field rules that Load cannot express with defaults.
func (c *Config) Validate() error {
	if c.BatchMaxFiles <= 0 {
		return fmt.Errorf("BATCH_MAX_FILES must be positive, got %d", c.BatchMaxFiles)
	}
	if c.BatchInterFileDelay < 0 {
		return fmt.Errorf("BATCH_INTER_FILE_DELAY must not be negative, got %s", c.BatchInterFileDelay)
	}
	if c.ValidationMaxPageSize <= 0 {
		return fmt.Errorf("VALIDATION_MAX_PAGE_SIZE must be positive, got %d", c.ValidationMaxPageSize)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	if !c.IsDev() && c.ExtractorURL == "" {
		return fmt.Errorf("EXTRACTOR_URL is required outside development")
	}

	switch c.BatchStore {
	case "postgres":
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when BATCH_STORE is \"mongo\"")
		}
	default:
		return fmt.Errorf("BATCH_STORE must be \"postgres\" or \"mongo\", got %q", c.BatchStore)
	}

	switch c.BlobBackend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("BLOB_BACKEND \"memory\" is not allowed in production")
		}
	case "s3":
		if c.S3Bucket == "" || c.S3Region == "" {
			return fmt.Errorf("S3_BUCKET and S3_REGION are required when BLOB_BACKEND is \"s3\"")
		}
	case "azure":
		if c.AzureConnectionString == "" {
			return fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING is required when BLOB_BACKEND is \"azure\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\", \"s3\", or \"azure\", got %q", c.BlobBackend)
	}

	return nil
}
