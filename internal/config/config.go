package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// PathEnv names the variable holding the optional YAML config file.
const PathEnv = "RATES_CONFIG_PATH"

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Log        LogConfig         `yaml:"log"`
	Store      StoreConfig       `yaml:"store"`
	Redis      RedisConfig       `yaml:"redis"`
	Postgres   PostgresConfig    `yaml:"postgres"`
	Kafka      KafkaConfig       `yaml:"kafka"`
	Rates      RatesConfig       `yaml:"rates"`
	Providers  ProvidersConfig   `yaml:"providers"`
	Sources    map[string]string `yaml:"sources" env:"RATES_SOURCES" env-separator:","`
	Currencies []string          `yaml:"currencies" env:"RATES_CURRENCIES" env-separator:","`
}

type ServerConfig struct {
	Port         int           `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"120s"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// StoreConfig selects the rate store backend: memory, redis or postgres.
type StoreConfig struct {
	Backend       string        `yaml:"backend" env:"STORE_BACKEND" env-default:"memory"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"STORE_PURGE_INTERVAL" env-default:"10m"`
}

type RedisConfig struct {
	URL    string `yaml:"url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	Prefix string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"rates"`
	// Sources reads the market mapping from Redis instead of this file.
	Sources bool `yaml:"sources" env:"REDIS_SOURCES" env-default:"false"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"rates.stored"`
}

type RatesConfig struct {
	Pivot        string        `yaml:"pivot" env:"RATES_PIVOT" env-default:"USD"`
	LiveTTL      time.Duration `yaml:"live_ttl" env:"RATES_LIVE_TTL" env-default:"300s"`
	WarmMarkets  []string      `yaml:"warm_markets" env:"RATES_WARM_MARKETS" env-separator:","`
	WarmInterval time.Duration `yaml:"warm_interval" env:"RATES_WARM_INTERVAL" env-default:"5m"`
}

type ProvidersConfig struct {
	Currencylayer ProviderConfig `yaml:"currencylayer" env-prefix:"CURRENCYLAYER_"`
	Coinlayer     ProviderConfig `yaml:"coinlayer" env-prefix:"COINLAYER_"`
	// Static is a fixed market id → value table served as provider "static".
	Static map[string]float64 `yaml:"static"`
}

type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	AccessKey string        `yaml:"access_key" env:"ACCESS_KEY"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"10s"`
	RetryMax  int           `yaml:"retry_max" env:"RETRY_MAX" env-default:"2"`
	Timeframe bool          `yaml:"timeframe" env:"TIMEFRAME" env-default:"false"`
}

// LoadConfig reads an optional .env file, then the YAML file named by
// RATES_CONFIG_PATH when set, with environment variables taking precedence.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv(PathEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka publishing requires at least one broker")
	}
	if len(c.Rates.Pivot) == 0 {
		return fmt.Errorf("pivot currency must be set")
	}
	if c.Store.PurgeInterval <= 0 {
		return fmt.Errorf("store purge interval must be positive, got %s", c.Store.PurgeInterval)
	}
	if c.Rates.WarmInterval <= 0 {
		return fmt.Errorf("warm interval must be positive, got %s", c.Rates.WarmInterval)
	}
	return nil
}
