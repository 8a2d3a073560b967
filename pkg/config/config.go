// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NATS        NATSConfig
	JWT         JWTConfig
	Sentry      SentryConfig
	Negotiation NegotiationConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // comma-separated allowed origins
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis settings for the driver presence registry.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds event bus settings.
type NATSConfig struct {
	URL        string
	StreamName string
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// SentryConfig holds error tracking settings.
type SentryConfig struct {
	DSN     string
	Enabled bool
}

// NegotiationConfig tunes the ride negotiation engine.
type NegotiationConfig struct {
	// DecisionWindowSeconds bounds how long a surfaced request waits for a
	// driver decision before it is locally auto-rejected.
	DecisionWindowSeconds int

	// MinFareMultiplier and MaxFareMultiplier bound passenger-set fares and
	// driver counter-offers relative to the computed quote.
	MinFareMultiplier float64
	MaxFareMultiplier float64

	CurrencyCode string
}

// Load reads configuration from the environment, with a .env file as a
// development convenience.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "farepact"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName: getEnv("NATS_STREAM", "FAREPACT"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Sentry: SentryConfig{
			DSN:     getEnv("SENTRY_DSN", ""),
			Enabled: getEnvAsBool("SENTRY_ENABLED", false),
		},
		Negotiation: NegotiationConfig{
			DecisionWindowSeconds: getEnvAsInt("NEGOTIATION_DECISION_WINDOW_SECONDS", 30),
			MinFareMultiplier:     getEnvAsFloat("NEGOTIATION_MIN_FARE_MULTIPLIER", 0.7),
			MaxFareMultiplier:     getEnvAsFloat("NEGOTIATION_MAX_FARE_MULTIPLIER", 1.5),
			CurrencyCode:          getEnv("NEGOTIATION_CURRENCY", "USD"),
		},
	}

	if cfg.Negotiation.DecisionWindowSeconds <= 0 {
		cfg.Negotiation.DecisionWindowSeconds = 30
	}
	if cfg.Negotiation.MinFareMultiplier <= 0 || cfg.Negotiation.MinFareMultiplier > 1 {
		return nil, fmt.Errorf("NEGOTIATION_MIN_FARE_MULTIPLIER must be in (0, 1], got %v", cfg.Negotiation.MinFareMultiplier)
	}
	if cfg.Negotiation.MaxFareMultiplier < 1 {
		return nil, fmt.Errorf("NEGOTIATION_MAX_FARE_MULTIPLIER must be >= 1, got %v", cfg.Negotiation.MaxFareMultiplier)
	}

	return cfg, nil
}

// DecisionWindow returns the countdown duration for a surfaced request.
func (c NegotiationConfig) DecisionWindow() time.Duration {
	return time.Duration(c.DecisionWindowSeconds) * time.Second
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
