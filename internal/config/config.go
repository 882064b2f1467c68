/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses
 * the Viper library to read configuration from environment variables (and an
 * optional .env file) into an explicit Config value that is injected at startup.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/spf13/viper"
)

// Mode selects the backing store and change feed.
type Mode string

const (
	// ModeLive persists to PostgreSQL and fans changes out through Redis.
	ModeLive Mode = "live"
	// ModeLocal persists to JSON files and keeps every collaborator in-process.
	ModeLocal Mode = "local"
)

const localJWTSecret = "bitnest-local-development-secret"

// ParseMode maps a configured mode onto a known value.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeLive:
		return ModeLive, nil
	case ModeLocal:
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected live or local)", raw)
	}
}

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	RawMode                  string `mapstructure:"MODE"`
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix           string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventExchange            string `mapstructure:"EVENT_EXCHANGE"`
	CommissionQueue          string `mapstructure:"COMMISSION_QUEUE"`
	LocalDataDir             string `mapstructure:"LOCAL_DATA_DIR"`
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes            int    `mapstructure:"JWT_TTL_MINUTES"`
	PasswordResetTTLMinutes  int    `mapstructure:"PASSWORD_RESET_TTL_MINUTES"`
	AdminEmail               string `mapstructure:"ADMIN_EMAIL"`
	SupportEmail             string `mapstructure:"SUPPORT_EMAIL"`
	PublicBaseURL            string `mapstructure:"PUBLIC_BASE_URL"`
	SavingsClaimGate         string `mapstructure:"SAVINGS_CLAIM_GATE"`
	SignInRateLimitPerMinute int    `mapstructure:"SIGNIN_RATE_LIMIT_PER_MINUTE"`
	OutboxPollIntervalMS     int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize          int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	MaturedLoopSchedule      string `mapstructure:"MATURED_LOOP_SCHEDULE"`
	LedgerTotalsSchedule     string `mapstructure:"LEDGER_TOTALS_SCHEDULE"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Mode is resolved from RawMode after loading.
	Mode Mode `mapstructure:"-"`
	// ClaimGate is resolved from SavingsClaimGate after loading.
	ClaimGate domain.SavingsClaimGate `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "bitnest")
	viper.SetDefault("EVENT_EXCHANGE", "bitnest.events")
	viper.SetDefault("COMMISSION_QUEUE", "ledger_service.commission_intents")
	viper.SetDefault("LOCAL_DATA_DIR", "./data")
	viper.SetDefault("JWT_TTL_MINUTES", 60*24)
	viper.SetDefault("PASSWORD_RESET_TTL_MINUTES", 30)
	viper.SetDefault("ADMIN_EMAIL", "admin@bitnest.local")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("SAVINGS_CLAIM_GATE", string(domain.SavingsClaimGateDaily))
	viper.SetDefault("SIGNIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("MATURED_LOOP_SCHEDULE", "@every 1m")
	viper.SetDefault("LEDGER_TOTALS_SCHEDULE", "@every 5m")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	for _, key := range []string{
		"MODE", "SERVER_PORT", "PORT", "DATABASE_URL", "REDIS_KEY_PREFIX", "RABBITMQ_URL",
		"EVENT_EXCHANGE", "COMMISSION_QUEUE", "LOCAL_DATA_DIR", "JWT_SECRET", "JWT_TTL_MINUTES",
		"PASSWORD_RESET_TTL_MINUTES", "ADMIN_EMAIL", "SUPPORT_EMAIL", "PUBLIC_BASE_URL",
		"SAVINGS_CLAIM_GATE", "SIGNIN_RATE_LIMIT_PER_MINUTE", "OUTBOX_POLL_INTERVAL_MS",
		"OUTBOX_BATCH_SIZE", "MATURED_LOOP_SCHEDULE", "LEDGER_TOTALS_SCHEDULE", "CORS_ALLOWED_ORIGINS",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	err = config.normalize()
	return
}

func (c *Config) normalize() error {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.RedisKeyPrefix = strings.Trim(strings.TrimSpace(c.RedisKeyPrefix), ":")
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = "bitnest"
	}
	c.AdminEmail = strings.ToLower(strings.TrimSpace(c.AdminEmail))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")

	if strings.TrimSpace(c.RawMode) == "" {
		if c.DatabaseURL != "" {
			c.Mode = ModeLive
		} else {
			c.Mode = ModeLocal
		}
	} else {
		mode, err := ParseMode(c.RawMode)
		if err != nil {
			return err
		}
		c.Mode = mode
	}

	gate, err := domain.ParseSavingsClaimGate(c.SavingsClaimGate)
	if err != nil {
		return err
	}
	c.ClaimGate = gate

	if c.JWTTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid JWT_TTL_MINUTES; using default\" value=%d", c.JWTTTLMinutes)
		c.JWTTTLMinutes = 60 * 24
	}
	if c.PasswordResetTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"invalid PASSWORD_RESET_TTL_MINUTES; using default\" value=%d", c.PasswordResetTTLMinutes)
		c.PasswordResetTTLMinutes = 30
	}
	if c.SignInRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"invalid SIGNIN_RATE_LIMIT_PER_MINUTE; disabling limit\" value=%d", c.SignInRateLimitPerMinute)
		c.SignInRateLimitPerMinute = 0
	}
	if c.OutboxPollIntervalMS <= 0 {
		c.OutboxPollIntervalMS = 1200
	}
	if c.OutboxBatchSize <= 0 {
		c.OutboxBatchSize = 50
	}

	switch c.Mode {
	case ModeLive:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required in live mode")
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return errors.New("JWT_SECRET is required in live mode")
		}
		if c.ClaimGate == domain.SavingsClaimGateOff {
			return errors.New("SAVINGS_CLAIM_GATE=off is only permitted in local mode")
		}
	case ModeLocal:
		if strings.TrimSpace(c.JWTSecret) == "" {
			log.Println("level=warn component=config msg=\"JWT_SECRET not set; using local development secret\"")
			c.JWTSecret = localJWTSecret
		}
	}
	return nil
}

// Rules returns the ledger rule set with configured overrides applied.
func (c Config) Rules() domain.Rules {
	rules := domain.DefaultRules()
	if c.ClaimGate != "" {
		rules.SavingsClaimGate = c.ClaimGate
	}
	return rules
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
