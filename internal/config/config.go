// Package config loads process configuration from environment variables and
// an optional yaml file via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Venue   VenueConfig   `mapstructure:"venue"`
	Trading TradingConfig `mapstructure:"trading"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// VenueConfig configures the execution venue connection and its rate ceiling.
type VenueConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// TradingConfig configures the execution core.
type TradingConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	MinNotional  string        `mapstructure:"min_notional"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from config.yaml (when present) and
// BASKETEXEC_* environment variables, with sane defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/basketexec")

	v.SetEnvPrefix("BASKETEXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("venue.requests_per_window", 100)
	v.SetDefault("venue.window", "1s")
	v.SetDefault("trading.tick_interval", "0s")
	v.SetDefault("trading.min_notional", "10")
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
