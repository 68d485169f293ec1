// Package config loads service configuration from defaults, an optional
// .env file and environment variables (APP_PORT, FEED_MODE, ...).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/atmx/quote-engine/internal/valuation"
)

// ErrInvalidConfig is returned when a loaded value fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Feed modes.
const (
	FeedModeSim   = "sim"
	FeedModeWS    = "ws"
	FeedModeRedis = "redis"
	FeedModeKafka = "kafka"
)

// Config holds all configuration for the service.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Sim       SimConfig       `mapstructure:"sim"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Valuation ValuationConfig `mapstructure:"valuation"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type FeedConfig struct {
	Mode         string        `mapstructure:"mode"` // sim, ws, redis or kafka
	URL          string        `mapstructure:"url"`
	RedisChannel string        `mapstructure:"redis_channel"`
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	KafkaTopic   string        `mapstructure:"kafka_topic"`
	KafkaGroup   string        `mapstructure:"kafka_group"`
	HistorySize  int           `mapstructure:"history_size"`
	BackoffMin   time.Duration `mapstructure:"backoff_min"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
}

type SimConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Publish  string        `mapstructure:"publish"` // ws, redis or kafka; used by quotesim
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type UpstreamConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type ValuationConfig struct {
	CostBasis string `mapstructure:"cost_basis"` // average or fifo
}

var keys = []string{
	"app.port", "app.env",
	"log.level",
	"feed.mode", "feed.url", "feed.redis_channel",
	"feed.kafka_brokers", "feed.kafka_topic", "feed.kafka_group",
	"feed.history_size", "feed.backoff_min", "feed.backoff_max",
	"sim.interval", "sim.publish",
	"database.url",
	"redis.url", "redis.cache_ttl",
	"upstream.url", "upstream.token",
	"valuation.cost_basis",
}

// Load reads configuration from the given .env files (default ".env"),
// environment variables and defaults. A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded, relying on environment", "err", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")

	v.SetDefault("feed.mode", FeedModeSim)
	v.SetDefault("feed.url", "ws://localhost:8090/ws")
	v.SetDefault("feed.redis_channel", "quotes.prices")
	v.SetDefault("feed.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("feed.kafka_topic", "quotes.prices")
	v.SetDefault("feed.kafka_group", "quote-engine")
	v.SetDefault("feed.history_size", 20)
	v.SetDefault("feed.backoff_min", time.Second)
	v.SetDefault("feed.backoff_max", 30*time.Second)

	v.SetDefault("sim.interval", 3*time.Second)
	v.SetDefault("sim.publish", FeedModeWS)

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", 5*time.Second)
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.token", "")
	v.SetDefault("valuation.cost_basis", "average")
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Feed.Mode {
	case FeedModeSim:
	case FeedModeWS:
		if c.Feed.URL == "" {
			return fmt.Errorf("%w: feed.url is required in ws mode", ErrInvalidConfig)
		}
	case FeedModeRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis.url is required in redis mode", ErrInvalidConfig)
		}
	case FeedModeKafka:
		if len(c.Feed.KafkaBrokers) == 0 || c.Feed.KafkaTopic == "" {
			return fmt.Errorf("%w: feed.kafka_brokers and feed.kafka_topic are required in kafka mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown feed.mode %q", ErrInvalidConfig, c.Feed.Mode)
	}

	switch c.Sim.Publish {
	case FeedModeWS, FeedModeRedis, FeedModeKafka:
	default:
		return fmt.Errorf("%w: unknown sim.publish %q", ErrInvalidConfig, c.Sim.Publish)
	}

	if c.Feed.HistorySize <= 0 {
		return fmt.Errorf("%w: feed.history_size must be positive", ErrInvalidConfig)
	}
	if c.Feed.BackoffMin <= 0 || c.Feed.BackoffMax < c.Feed.BackoffMin {
		return fmt.Errorf("%w: feed backoff bounds %s..%s", ErrInvalidConfig, c.Feed.BackoffMin, c.Feed.BackoffMax)
	}
	if _, err := valuation.ParseCostBasisMethod(c.Valuation.CostBasis); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// CostBasisMethod returns the parsed valuation.cost_basis.
func (c *Config) CostBasisMethod() valuation.CostBasisMethod {
	m, _ := valuation.ParseCostBasisMethod(c.Valuation.CostBasis)
	return m
}

// SlogLevel parses log.level (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.App.Port, ":") {
		return c.App.Port
	}
	return ":" + c.App.Port
}
