// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the execution engine.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Venues   []VenueConfig  `mapstructure:"venues"`
	LogLevel string         `mapstructure:"log_level"`
}

// ServerConfig configures the HTTP/WebSocket gateway.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig configures the Postgres connection for the audit sink.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig configures the Redis connections used for the cache sink,
// pub/sub broadcast, the queue substrate, and the per-order lock.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig configures the optional firehose event stream. An empty broker
// disables the Kafka sink.
type KafkaConfig struct {
	Broker string `mapstructure:"broker"`
	Topic  string `mapstructure:"topic"`
}

// EngineConfig tunes the execution pool and retry policy.
type EngineConfig struct {
	PoolSize         int           `mapstructure:"pool_size"`
	ExecTimeout      time.Duration `mapstructure:"exec_timeout"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	RetryExponential bool          `mapstructure:"retry_exponential"`
}

// VenueConfig describes one simulated liquidity venue.
type VenueConfig struct {
	Name    string                `mapstructure:"name"`
	FeeRate float64               `mapstructure:"fee_rate"`
	Pools   map[string]PoolConfig `mapstructure:"pools"`
	Default PoolConfig            `mapstructure:"default_pool"`
}

// PoolConfig holds the reserve depths for one pair on one venue.
type PoolConfig struct {
	ReserveIn  float64 `mapstructure:"reserve_in"`
	ReserveOut float64 `mapstructure:"reserve_out"`
}

// Load reads config.yaml from the given path (or the working directory when
// empty), applying DEXFLOW_-prefixed environment overrides and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("DEXFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// run on defaults + env
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "dexflow")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.cache_ttl", time.Hour)

	v.SetDefault("kafka.topic", "order.events")

	v.SetDefault("engine.pool_size", 8)
	v.SetDefault("engine.exec_timeout", time.Minute)
	v.SetDefault("engine.lock_ttl", 2*time.Minute)
	v.SetDefault("engine.retry_max_attempts", 3)
	v.SetDefault("engine.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("engine.retry_max_delay", 5*time.Second)
	v.SetDefault("engine.retry_exponential", true)
}
