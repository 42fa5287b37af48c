// Package config loads the server configuration from command line
// flags and an optional YAML file.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedQuote is one resting order placed at startup.
type SeedQuote struct {
	Side     string `yaml:"side"`
	Quantity int64  `yaml:"quantity"`
	Price    string `yaml:"price"`
}

// Config represents the application configuration.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		LogLevel   string `yaml:"log_level"`
		LogFormat  string `yaml:"log_format"`

		// MarketPolicy decides a partially filled market order's
		// remainder: "REJECT" or "CANCEL".
		MarketPolicy string `yaml:"market_policy"`

		// Per-session request limits.
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
		QueueSize int     `yaml:"queue_size"`
	} `yaml:"server"`

	Redis struct {
		// Enabled switches the terminal-order archive from memory to
		// Redis.
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Kafka struct {
		// Enabled switches fill publication from the no-op sender to
		// Kafka.
		Enabled    bool   `yaml:"enabled"`
		BrokerAddr string `yaml:"broker_addr"`
		Topic      string `yaml:"topic"`
		// ConsumeFills tails the topic and logs the fill stream.
		ConsumeFills bool `yaml:"consume_fills"`
	} `yaml:"kafka"`

	// Seed rests the configured quotes per instrument at startup.
	Seed map[string][]SeedQuote `yaml:"seed"`

	// MarketMaker enables the synthetic liquidity maker, configured
	// through its own environment variables.
	MarketMaker struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"market_maker"`
}

var (
	configFile = flag.String("config", "", "Path to config file (YAML)")
	port       = flag.Int("port", 8080, "The server port")
	logLevel   = flag.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log_format", "pretty", "Log format: json, pretty")
)

// LoadConfig loads the configuration from command line flags and
// optionally from a config file.
func LoadConfig() (*Config, error) {
	flag.Parse()

	config := &Config{}
	config.Server.ListenAddr = fmt.Sprintf(":%d", *port)
	config.Server.LogLevel = *logLevel
	config.Server.LogFormat = *logFormat
	config.Server.MarketPolicy = "REJECT"
	config.Server.RateLimit = 200
	config.Server.RateBurst = 50
	config.Server.QueueSize = 256
	config.Redis.Addr = "localhost:6379"
	config.Redis.KeyPrefix = "simex"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.Topic = "fill-events"

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}
