package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sambitmohanty1/payment-callbacks/internal/webhook"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Name         string `mapstructure:"name"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DSN returns the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// WebhookConfig holds inbound callback settings
type WebhookConfig struct {
	Secret          string        `mapstructure:"secret"`
	SignatureScheme string        `mapstructure:"signature_scheme"`
	SignatureHeader string        `mapstructure:"signature_header"`
	Tolerance       time.Duration `mapstructure:"tolerance"`
	DBTimeout       time.Duration `mapstructure:"db_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// FeesConfig holds platform fee percentages per payment kind
type FeesConfig struct {
	DonationPercentage int64 `mapstructure:"donation_percentage"`
	PlatformPercentage int64 `mapstructure:"platform_percentage"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Unacknowledged stream entries idle longer than ClaimMinIdle are retried
	// every ClaimInterval, then dead-lettered after MaxDeliveries attempts.
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
	ClaimMinIdle  time.Duration `mapstructure:"claim_min_idle"`
	MaxDeliveries int           `mapstructure:"max_deliveries"`
}

type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	SecretPath string `mapstructure:"secret_path"`
}

// AlertsConfig configures the optional HTTP alert sink
type AlertsConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var envBindings = map[string]string{
	"server.port":              "SERVER_PORT",
	"server.host":              "SERVER_HOST",
	"server.max_body_bytes":    "SERVER_MAX_BODY_BYTES",
	"database.host":            "DATABASE_HOST",
	"database.port":            "DATABASE_PORT",
	"database.name":            "DATABASE_NAME",
	"database.user":            "DATABASE_USER",
	"database.password":        "DATABASE_PASSWORD",
	"database.ssl_mode":        "DATABASE_SSL_MODE",
	"database.max_open_conns":  "DATABASE_MAX_OPEN_CONNS",
	"webhook.secret":           "WEBHOOK_SECRET",
	"webhook.signature_scheme": "WEBHOOK_SIGNATURE_SCHEME",
	"webhook.signature_header": "WEBHOOK_SIGNATURE_HEADER",
	"webhook.tolerance":        "WEBHOOK_TOLERANCE",
	"webhook.db_timeout":       "WEBHOOK_DB_TIMEOUT",
	"webhook.rate_limit":       "WEBHOOK_RATE_LIMIT",
	"webhook.rate_burst":       "WEBHOOK_RATE_BURST",
	"fees.donation_percentage": "FEES_DONATION_PERCENTAGE",
	"fees.platform_percentage": "FEES_PLATFORM_PERCENTAGE",
	"redis.enabled":            "REDIS_ENABLED",
	"redis.addr":               "REDIS_ADDR",
	"redis.password":           "REDIS_PASSWORD",
	"redis.db":                 "REDIS_DB",
	"redis.claim_interval":     "REDIS_CLAIM_INTERVAL",
	"redis.claim_min_idle":     "REDIS_CLAIM_MIN_IDLE",
	"redis.max_deliveries":     "REDIS_MAX_DELIVERIES",
	"vault.address":            "VAULT_ADDR",
	"vault.token":              "VAULT_TOKEN",
	"vault.secret_path":        "VAULT_SECRET_PATH",
	"alerts.endpoint":          "ALERTS_ENDPOINT",
	"alerts.client_id":         "ALERTS_CLIENT_ID",
	"alerts.client_secret":     "ALERTS_CLIENT_SECRET",
	"alerts.token_url":         "ALERTS_TOKEN_URL",
	"log.level":                "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "payment_callbacks")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("webhook.signature_scheme", webhook.SchemeHMACSHA256)
	v.SetDefault("webhook.signature_header", "")
	v.SetDefault("webhook.tolerance", 5*time.Minute)
	v.SetDefault("webhook.db_timeout", 5*time.Second)
	v.SetDefault("webhook.rate_limit", 100.0)
	v.SetDefault("webhook.rate_burst", 200)
	v.SetDefault("fees.donation_percentage", 5)
	v.SetDefault("fees.platform_percentage", 10)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.claim_interval", 30*time.Second)
	v.SetDefault("redis.claim_min_idle", time.Minute)
	v.SetDefault("redis.max_deliveries", 5)
	v.SetDefault("vault.secret_path", "secret/data/payment-callbacks/webhook")
	v.SetDefault("log.level", "info")
}

// Load reads defaults, an optional config.yaml and the environment. A .env file
// in the working directory is loaded into the environment first when present.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config") // Kubernetes ConfigMap mount path
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings the service cannot start without.
// The webhook secret may still be empty here when Vault is configured to supply it.
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" && c.Vault.Address == "" {
		return errors.New("webhook.secret is required")
	}
	switch c.Webhook.SignatureScheme {
	case webhook.SchemeHMACSHA256, webhook.SchemeHMACSHA512, webhook.SchemeStripe:
	default:
		return fmt.Errorf("unsupported webhook.signature_scheme: %q", c.Webhook.SignatureScheme)
	}
	if c.Webhook.DBTimeout <= 0 {
		return errors.New("webhook.db_timeout must be positive")
	}
	if c.Webhook.RateLimit < 0 {
		return errors.New("webhook.rate_limit must not be negative")
	}
	if c.Fees.DonationPercentage < 0 || c.Fees.DonationPercentage > 100 {
		return fmt.Errorf("fees.donation_percentage must be between 0 and 100: %d", c.Fees.DonationPercentage)
	}
	if c.Fees.PlatformPercentage < 0 || c.Fees.PlatformPercentage > 100 {
		return fmt.Errorf("fees.platform_percentage must be between 0 and 100: %d", c.Fees.PlatformPercentage)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	return nil
}
