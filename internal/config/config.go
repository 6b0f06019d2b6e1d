package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Push      PushConfig      `mapstructure:"push"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type UpstreamConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	FreshSec       int `mapstructure:"fresh_sec"`
	RetentionHours int `mapstructure:"retention_hours"`
}

type SweepConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
	MaxInFlight int `mapstructure:"max_in_flight"`
	WindowHours int `mapstructure:"window_hours"`
}

type PushConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	GatewayURL string `mapstructure:"gateway_url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type RetentionConfig struct {
	SubscriptionDays int `mapstructure:"subscription_days"`
	RunIntervalMin   int `mapstructure:"run_interval_min"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("upstream.base_url", "https://liveresultat.orientering.se")
	v.SetDefault("upstream.timeout_sec", 15)
	v.SetDefault("upstream.rate_per_second", 2)
	v.SetDefault("server.port", "8080")
	v.SetDefault("db.path", "finishline.db")
	v.SetDefault("cache.fresh_sec", 15)
	v.SetDefault("cache.retention_hours", 24)
	v.SetDefault("sweep.interval_sec", 30)
	v.SetDefault("sweep.max_in_flight", 4)
	v.SetDefault("sweep.window_hours", 12)
	v.SetDefault("push.enabled", false)
	v.SetDefault("push.timeout_sec", 10)
	v.SetDefault("retention.subscription_days", 7)
	v.SetDefault("retention.run_interval_min", 60)
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("FINISHLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("push.api_key", "FINISHLINE_PUSH_API_KEY")
	_ = v.BindEnv("push.gateway_url", "FINISHLINE_PUSH_GATEWAY_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.RatePerSecond <= 0 {
		return fmt.Errorf("upstream.rate_per_second must be > 0")
	}
	if c.Sweep.MaxInFlight < 1 {
		return fmt.Errorf("sweep.max_in_flight must be >= 1")
	}
	if c.Push.Enabled && c.Push.GatewayURL == "" {
		return fmt.Errorf("push.gateway_url is required when push is enabled (set FINISHLINE_PUSH_GATEWAY_URL env var)")
	}
	return nil
}

// Durations derived from the integer config fields.

func (c *CacheConfig) Fresh() time.Duration     { return time.Duration(c.FreshSec) * time.Second }
func (c *CacheConfig) Retention() time.Duration { return time.Duration(c.RetentionHours) * time.Hour }

func (c *SweepConfig) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }
func (c *SweepConfig) Window() time.Duration   { return time.Duration(c.WindowHours) * time.Hour }

func (c *PushConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

func (c *UpstreamConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

func (c *RetentionConfig) SubscriptionAge() time.Duration {
	return time.Duration(c.SubscriptionDays) * 24 * time.Hour
}

func (c *RetentionConfig) RunInterval() time.Duration {
	return time.Duration(c.RunIntervalMin) * time.Minute
}
