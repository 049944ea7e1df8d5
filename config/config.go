package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Feed      FeedConfig      `yaml:"feed"`
	Redis     RedisConfig     `yaml:"redis"`
	KLine     KLineConfig     `yaml:"kline"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type GatewayConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	Driver      string        `yaml:"driver"`
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Instruments []string      `yaml:"instruments"`
	Periods     []string      `yaml:"periods"`
	RetryBudget int           `yaml:"retry_budget"`
	ConnectWait time.Duration `yaml:"connect_wait"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KLineConfig struct {
	StorageLimit int `yaml:"storage_limit"`
}

type BackfillConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
}

type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			Driver:      "sim",
			RetryBudget: 3,
			ConnectWait: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		KLine: KLineConfig{
			StorageLimit: 100,
		},
		Backfill: BackfillConfig{
			PollInterval:      200 * time.Millisecond,
			PollTimeout:       30 * time.Second,
			RequestsPerSecond: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Feed credentials may come from the environment instead of the file
	if v := os.Getenv("FEED_USERNAME"); v != "" {
		config.Feed.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEED_PASSWORD"); v != "" {
		config.Feed.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Redis.Addr = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// expandEnv substitutes ${VAR} references before the yaml parse so secrets
// never need to live in the file itself.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func validateConfig(cfg *Config) error {
	if cfg.Gateway.Name == "" {
		return fmt.Errorf("gateway.name is required")
	}
	if cfg.Gateway.Version == "" {
		return fmt.Errorf("gateway.version is required")
	}

	if cfg.Feed.Driver == "" {
		return fmt.Errorf("feed.driver is required")
	}
	if len(cfg.Feed.Instruments) == 0 {
		return fmt.Errorf("feed.instruments must not be empty")
	}
	if len(cfg.Feed.Periods) == 0 {
		return fmt.Errorf("feed.periods must not be empty")
	}
	if cfg.Feed.RetryBudget < 0 {
		return fmt.Errorf("feed.retry_budget must not be negative")
	}
	if cfg.Feed.ConnectWait <= 0 {
		return fmt.Errorf("feed.connect_wait must be greater than 0")
	}

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if cfg.KLine.StorageLimit <= 0 {
		return fmt.Errorf("kline.storage_limit must be greater than 0")
	}

	if cfg.Backfill.PollInterval <= 0 {
		return fmt.Errorf("backfill.poll_interval must be greater than 0")
	}
	if cfg.Backfill.PollTimeout <= 0 {
		return fmt.Errorf("backfill.poll_timeout must be greater than 0")
	}
	if cfg.Backfill.RequestsPerSecond <= 0 {
		return fmt.Errorf("backfill.requests_per_second must be greater than 0")
	}

	if cfg.WebSocket.Enabled && cfg.WebSocket.Addr == "" {
		return fmt.Errorf("websocket.addr is required when websocket is enabled")
	}

	return nil
}
