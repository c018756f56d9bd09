package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the trading engine.
type Config struct {
	Port            int
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	FeedURL         string
	FeedInterval    time.Duration
	PriceTTL        time.Duration
	FeeRate         decimal.Decimal
	OrderExpiry     time.Duration
	StartingCash    decimal.Decimal
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
// DATABASE_URL and REDIS_URL are optional: when empty the engine falls
// back to its in-memory store and price cache.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	feedInterval, err := getDuration("FEED_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid FEED_INTERVAL: %w", err)
	}

	priceTTL, err := getDuration("PRICE_TTL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_TTL: %w", err)
	}

	feeRate, err := getDecimal("FEE_RATE", decimal.NewFromFloat(0.004))
	if err != nil {
		return nil, fmt.Errorf("invalid FEE_RATE: %w", err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid FEE_RATE: %s, must be in [0, 1)", feeRate)
	}

	orderExpiry, err := getDuration("ORDER_EXPIRY", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_EXPIRY: %w", err)
	}

	startingCash, err := getDecimal("STARTING_CASH", decimal.NewFromInt(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("invalid STARTING_CASH: %w", err)
	}
	if startingCash.IsNegative() {
		return nil, fmt.Errorf("invalid STARTING_CASH: %s, must not be negative", startingCash)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseURL:     getStr("DATABASE_URL", ""),
		RedisURL:        getStr("REDIS_URL", ""),
		FeedURL:         getStr("FEED_URL", ""),
		FeedInterval:    feedInterval,
		PriceTTL:        priceTTL,
		FeeRate:         feeRate,
		OrderExpiry:     orderExpiry,
		StartingCash:    startingCash,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
