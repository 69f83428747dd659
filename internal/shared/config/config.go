package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	History   HistoryConfig   `mapstructure:"history"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
}

// StoreConfig selects the key-value backend for quota, history and sessions.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // memory, redis, postgres, sqlite
	SQLitePath string `mapstructure:"sqlite_path"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GeminiConfig holds the generation API settings.
type GeminiConfig struct {
	APIKey            string           `mapstructure:"api_key"`
	BaseURL           string           `mapstructure:"base_url"`
	TextModel         string           `mapstructure:"text_model"`
	ImageModel        string           `mapstructure:"image_model"`
	RequestsPerSecond float64          `mapstructure:"requests_per_second"`
	Burst             int              `mapstructure:"burst"`
	FailureThreshold  uint32           `mapstructure:"failure_threshold"`
	CircuitTimeout    time.Duration    `mapstructure:"circuit_timeout"`
	HTTPClient        HTTPClientConfig `mapstructure:"http_client"`
}

// HTTPClientConfig tunes the outbound HTTP transport.
type HTTPClientConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
}

// QuotaConfig holds tier limits.
type QuotaConfig struct {
	FreeLimit          int           `mapstructure:"free_limit"`
	PremiumLimit       int           `mapstructure:"premium_limit"`
	SubscriptionPeriod time.Duration `mapstructure:"subscription_period"`
}

// HistoryConfig holds history retention settings.
type HistoryConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	MaxBytes     int64    `mapstructure:"max_bytes"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
	Issuer            string        `mapstructure:"issuer"`
}

// ArchiveConfig holds object storage settings for generated images.
type ArchiveConfig struct {
	Driver          string `mapstructure:"driver"` // none, s3, minio
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// RateLimitConfig holds the per-user limit for generation endpoints.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/cosplaymagic")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("COSPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applySecretOverrides(&cfg)

	return &cfg, nil
}

// applySecretOverrides reads sensitive values from well-known variables.
func applySecretOverrides(cfg *Config) {
	if secret := os.Getenv("COSPLAY_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("COSPLAY_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("COSPLAY_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("COSPLAY_ARCHIVE_SECRET_KEY"); key != "" {
		cfg.Archive.SecretAccessKey = key
	}
	if cfg.Gemini.APIKey == "" {
		for _, name := range []string{"GEMINI_API_KEY", "API_KEY"} {
			if key := os.Getenv(name); key != "" {
				cfg.Gemini.APIKey = key
				break
			}
		}
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 180*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allow_origins", []string{"*"})

	// Store defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "./data/cosplay.db")
	v.SetDefault("store.key_prefix", "cosplay_")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "cosplay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.text_model", "gemini-2.5-flash")
	v.SetDefault("gemini.image_model", "imagen-3.0-generate-002")
	v.SetDefault("gemini.requests_per_second", 5)
	v.SetDefault("gemini.burst", 2)
	v.SetDefault("gemini.failure_threshold", 5)
	v.SetDefault("gemini.circuit_timeout", 30*time.Second)
	v.SetDefault("gemini.http_client.dial_timeout", 10*time.Second)
	v.SetDefault("gemini.http_client.keep_alive", 30*time.Second)
	v.SetDefault("gemini.http_client.max_idle_conns", 50)
	v.SetDefault("gemini.http_client.max_idle_conns_per_host", 10)
	v.SetDefault("gemini.http_client.max_conns_per_host", 20)
	v.SetDefault("gemini.http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("gemini.http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("gemini.http_client.response_timeout", 120*time.Second)

	// Quota defaults
	v.SetDefault("quota.free_limit", 3)
	v.SetDefault("quota.premium_limit", 100)
	v.SetDefault("quota.subscription_period", 30*24*time.Hour)

	// History defaults
	v.SetDefault("history.max_items", 20)

	// Upload defaults
	v.SetDefault("upload.max_bytes", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/webp"})

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_expiry", 24*time.Hour)
	v.SetDefault("auth.issuer", "cosplaymagic")

	// Archive defaults
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("archive.region", "auto")
	v.SetDefault("archive.bucket", "cosplay-generations")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
