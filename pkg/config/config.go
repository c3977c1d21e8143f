// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the invoicing bot.
type Config struct {
	AppEnv string `mapstructure:"app_env"`

	Server    ServerConfig    `mapstructure:"server"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Facturapi FacturapiConfig `mapstructure:"facturapi"`
	Session   SessionConfig   `mapstructure:"session"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	Token         string `mapstructure:"token" validate:"required"`
	PhoneNumberID string `mapstructure:"phone_number_id" validate:"required"`
	VerifyToken   string `mapstructure:"verify_token" validate:"required"`
	APIBaseURL    string `mapstructure:"api_base_url"`
}

// IssuerConfig identifies the emitting taxpayer on every invoice.
type IssuerConfig struct {
	TaxID     string `mapstructure:"tax_id" validate:"required"`
	TaxSystem string `mapstructure:"tax_system" validate:"required"`
	Zip       string `mapstructure:"zip" validate:"required"`
}

// FacturapiConfig holds billing provider credentials.
type FacturapiConfig struct {
	Key     string       `mapstructure:"key" validate:"required"`
	BaseURL string       `mapstructure:"base_url"`
	Issuer  IssuerConfig `mapstructure:"issuer"`
}

// SessionConfig controls conversation session lifetime.
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl" validate:"required"`
	CleanerInterval time.Duration `mapstructure:"cleaner_interval" validate:"required"`
}

// RedisConfig enables the Redis-backed session store, locks and limiters.
// When disabled the application falls back to in-memory equivalents.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// DatabaseConfig enables the PostgreSQL invoice audit trail.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required_if=Enabled true"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string based on config values.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// RateLimitConfig bounds inbound messages per sender.
type RateLimitConfig struct {
	PerUser int           `mapstructure:"per_user" validate:"required,min=1"`
	Window  time.Duration `mapstructure:"window" validate:"required"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SentryConfig enables error reporting.
type SentryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string `mapstructure:"environment"`
}
