package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns       int
	MaxIdleConns       int
	SystemMaxOpenConns int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
}

// DSN builds the pgx-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadConfigFromEnv loads database configuration from environment variables
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))
	systemMaxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_SYSTEM_MAX_OPEN_CONNS", "3"))

	return Config{
		Host:               getEnvOrDefault("DB_HOST", "localhost"),
		Port:               port,
		User:               getEnvOrDefault("DB_USER", "netra"),
		Password:           os.Getenv("DB_PASSWORD"),
		Database:           getEnvOrDefault("DB_NAME", "netra"),
		SSLMode:            getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:       maxOpen,
		MaxIdleConns:       maxIdle,
		SystemMaxOpenConns: systemMaxOpen,
		ConnMaxLifetime:    30 * time.Minute,
		ConnMaxIdleTime:    5 * time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
