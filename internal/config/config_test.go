package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if !cfg.FeeRate.Equal(decimal.NewFromFloat(0.004)) {
		t.Errorf("FeeRate = %s, want 0.004", cfg.FeeRate)
	}
	if !cfg.StartingCash.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("StartingCash = %s, want 1000000", cfg.StartingCash)
	}
	if cfg.OrderExpiry != 24*time.Hour {
		t.Errorf("OrderExpiry = %s, want 24h", cfg.OrderExpiry)
	}
	if cfg.PriceTTL != 60*time.Second {
		t.Errorf("PriceTTL = %s, want 60s", cfg.PriceTTL)
	}
	if cfg.FeedInterval != 5*time.Second {
		t.Errorf("FeedInterval = %s, want 5s", cfg.FeedInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FEE_RATE", "0.01")
	t.Setenv("STARTING_CASH", "5000")
	t.Setenv("ORDER_EXPIRY", "1h")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.FeeRate.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("FeeRate = %s, want 0.01", cfg.FeeRate)
	}
	if !cfg.StartingCash.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("StartingCash = %s, want 5000", cfg.StartingCash)
	}
	if cfg.OrderExpiry != time.Hour {
		t.Errorf("OrderExpiry = %s, want 1h", cfg.OrderExpiry)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":          "not-a-number",
		"LOG_LEVEL":     "loud",
		"FEE_RATE":      "1.5",
		"STARTING_CASH": "-100",
		"ORDER_EXPIRY":  "tomorrow",
		"FEED_INTERVAL": "sometimes",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := config.Load(); err == nil {
				t.Errorf("%s=%q should fail", key, val)
			}
		})
	}
}
