package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Alipay   AlipayConfig   `mapstructure:"alipay"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
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

// StripeConfig holds Stripe gateway credentials.
type StripeConfig struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// AlipayConfig holds Alipay gateway credentials.
type AlipayConfig struct {
	AppID           string `mapstructure:"app_id"`
	PrivateKey      string `mapstructure:"private_key"`
	AlipayPublicKey string `mapstructure:"alipay_public_key"`
	IsProd          bool   `mapstructure:"is_prod"`
}

// GatewayConfig holds gateway call and circuit breaker configuration.
type GatewayConfig struct {
	NotifyBaseURL       string        `mapstructure:"notify_base_url"`
	FailureThreshold    uint32        `mapstructure:"failure_threshold"`
	CircuitInterval     time.Duration `mapstructure:"circuit_interval"`
	CircuitTimeout      time.Duration `mapstructure:"circuit_timeout"`
	MaxHalfOpenRequests uint32        `mapstructure:"max_half_open_requests"`
}

// RetryConfig holds retry scheduler configuration.
type RetryConfig struct {
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/flowlytix")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	// Read from environment variables
	v.SetEnvPrefix("FLOWLYTIX")
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if password := os.Getenv("FLOWLYTIX_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("FLOWLYTIX_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("FLOWLYTIX_STRIPE_API_KEY"); key != "" {
		cfg.Stripe.APIKey = key
	}
	if secret := os.Getenv("FLOWLYTIX_STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}
	if key := os.Getenv("FLOWLYTIX_ALIPAY_PRIVATE_KEY"); key != "" {
		cfg.Alipay.PrivateKey = key
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "flowlytix_payments")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Gateway defaults
	v.SetDefault("gateway.failure_threshold", 5)
	v.SetDefault("gateway.circuit_interval", 60*time.Second)
	v.SetDefault("gateway.circuit_timeout", 30*time.Second)
	v.SetDefault("gateway.max_half_open_requests", 1)

	// Retry defaults
	v.SetDefault("retry.scheduler_interval", time.Minute)
	v.SetDefault("retry.batch_size", 50)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
