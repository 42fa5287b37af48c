package marketmaker

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the market maker.
type Config struct {
	// Market settings
	Instrument     string
	ReferencePrice float64

	// Quoting parameters
	NumLevels         int
	BaseSpreadPercent float64
	PriceStepPercent  float64
	OrderSize         int64
	UpdateInterval    time.Duration
	MarketMakerID     string

	// OrdersPerSecond caps order placement towards the exchange.
	OrdersPerSecond float64
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("MM_INSTRUMENT", "AAPL")
	v.SetDefault("MM_REFERENCE_PRICE", 100.0)
	v.SetDefault("MM_NUM_LEVELS", 3)
	v.SetDefault("MM_BASE_SPREAD_PERCENT", 0.1)
	v.SetDefault("MM_PRICE_STEP_PERCENT", 0.05)
	v.SetDefault("MM_ORDER_SIZE", 100)
	v.SetDefault("MM_UPDATE_INTERVAL_SECONDS", 10)
	v.SetDefault("MM_ID", "mm-01")
	v.SetDefault("MM_ORDERS_PER_SECOND", 50.0)

	v.AutomaticEnv()

	cfg := &Config{
		Instrument:        v.GetString("MM_INSTRUMENT"),
		ReferencePrice:    v.GetFloat64("MM_REFERENCE_PRICE"),
		NumLevels:         v.GetInt("MM_NUM_LEVELS"),
		BaseSpreadPercent: v.GetFloat64("MM_BASE_SPREAD_PERCENT"),
		PriceStepPercent:  v.GetFloat64("MM_PRICE_STEP_PERCENT"),
		OrderSize:         v.GetInt64("MM_ORDER_SIZE"),
		UpdateInterval:    time.Duration(v.GetInt("MM_UPDATE_INTERVAL_SECONDS")) * time.Second,
		MarketMakerID:     v.GetString("MM_ID"),
		OrdersPerSecond:   v.GetFloat64("MM_ORDERS_PER_SECOND"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Instrument == "" {
		return fmt.Errorf("MM_INSTRUMENT must not be empty")
	}
	if cfg.ReferencePrice <= 0 {
		return fmt.Errorf("MM_REFERENCE_PRICE must be positive")
	}
	if cfg.NumLevels <= 0 {
		return fmt.Errorf("MM_NUM_LEVELS must be positive")
	}
	if cfg.BaseSpreadPercent <= 0 {
		return fmt.Errorf("MM_BASE_SPREAD_PERCENT must be positive")
	}
	if cfg.PriceStepPercent <= 0 {
		return fmt.Errorf("MM_PRICE_STEP_PERCENT must be positive")
	}
	if cfg.OrderSize <= 0 {
		return fmt.Errorf("MM_ORDER_SIZE must be positive")
	}
	if cfg.UpdateInterval <= 0 {
		return fmt.Errorf("MM_UPDATE_INTERVAL_SECONDS must be positive")
	}
	if cfg.MarketMakerID == "" {
		return fmt.Errorf("MM_ID must not be empty")
	}
	return nil
}
