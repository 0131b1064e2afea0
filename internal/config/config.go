package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Token    TokenConfig    `mapstructure:"token"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Flip     FlipConfig     `mapstructure:"flip"`
	Midtrans MidtransConfig `mapstructure:"midtrans"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	// Empty DatabaseURL runs on the in-memory order store.
	DatabaseURL        string        `mapstructure:"database_url"`
	MaxOpenConnection  int           `mapstructure:"max_open_connection" validate:"min=1"`
	MaxIdleConnection  int           `mapstructure:"max_idle_connection" validate:"min=0"`
	ConnectionLifetime time.Duration `mapstructure:"connection_lifetime"`
	Migrate            bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	// Empty Addr keeps the bank list cache in process memory.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	TLS      bool   `mapstructure:"tls"`
}

type TokenConfig struct {
	AuthToken string `mapstructure:"auth_token" validate:"required"`
}

type LoggerConfig struct {
	LoggerLevel string `mapstructure:"logger_level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

type FlipConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	Environment   string        `mapstructure:"env" validate:"oneof=sandbox production"`
	BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
	CallbackToken string        `mapstructure:"callback_token" validate:"required_with=SecretKey"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	BankCacheTTL  time.Duration `mapstructure:"bank_cache_ttl" validate:"gte=0"`
	RateLimit     float64       `mapstructure:"rate_limit" validate:"gte=0"`
}

type MidtransConfig struct {
	DisbursementKey string        `mapstructure:"disbursement_key"`
	Environment     string        `mapstructure:"env" validate:"oneof=sandbox production"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
}

var defaults = map[string]any{
	"server.port":               "8080",
	"server.read_timeout":       10 * time.Second,
	"server.write_timeout":      30 * time.Second,
	"server.shutdown_timeout":   15 * time.Second,
	"db.database_url":           "",
	"db.max_open_connection":    15,
	"db.max_idle_connection":    10,
	"db.connection_lifetime":    time.Hour,
	"db.migrate":                true,
	"redis.addr":                "",
	"redis.password":            "",
	"redis.db":                  0,
	"redis.tls":                 false,
	"token.auth_token":          "",
	"logger.logger_level":       "info",
	"logger.development":        false,
	"flip.secret_key":           "",
	"flip.env":                  "sandbox",
	"flip.base_url":             "",
	"flip.callback_token":       "",
	"flip.timeout":              15 * time.Second,
	"flip.bank_cache_ttl":       10 * time.Minute,
	"flip.rate_limit":           0,
	"midtrans.disbursement_key": "",
	"midtrans.env":              "sandbox",
	"midtrans.base_url":         "",
	"midtrans.timeout":          15 * time.Second,
	"midtrans.rate_limit":       0,
}

// Load reads config.yaml (if present) and the environment. Nested keys map
// to env vars with dots replaced by underscores, e.g. FLIP_SECRET_KEY.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Println("config file not found, using defaults and environment")
	} else {
		log.Printf("using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
