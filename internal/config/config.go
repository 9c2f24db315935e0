package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Supabase  SupabaseConfig  `mapstructure:"supabase"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Pruner    PrunerConfig    `mapstructure:"pruner"`
}

// ServerConfig holds local control API settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// CORSConfig holds CORS policy settings for the control API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings for the mirror worker.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
}

// QueueConfig holds async queue settings for the cache mirror fan-out.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// SyncConfig holds realtime subscription settings.
type SyncConfig struct {
	Schema             string `mapstructure:"schema"`
	ContentTable       string `mapstructure:"content_table"`
	BreakingTable      string `mapstructure:"breaking_table"`
	RefreshIntervalSec int    `mapstructure:"refresh_interval_sec"`
	MaxRetries         int    `mapstructure:"max_retries"`
	InitialBackoffMs   int    `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int    `mapstructure:"max_backoff_ms"`
}

// CacheConfig holds offline cache settings.
type CacheConfig struct {
	Path     string `mapstructure:"path"`
	MaxItems int    `mapstructure:"max_items"`
}

// AudioConfig holds audio cue settings.
type AudioConfig struct {
	Volume float64 `mapstructure:"volume"`
}

// PrunerConfig holds mirror pruner settings (durations as seconds for YAML/env compat).
type PrunerConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
	MaxItems    int `mapstructure:"max_items"`
	TTLSec      int `mapstructure:"ttl_sec"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the NEWSSTAND_ prefix and underscore separators.
// Example: NEWSSTAND_SERVER_PORT overrides server.port in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	// Environment variable settings
	v.SetEnvPrefix("NEWSSTAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "X-Request-ID"})
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("sync.schema", "public")
	v.SetDefault("sync.content_table", "articles")
	v.SetDefault("sync.breaking_table", "breaking_news")
	v.SetDefault("sync.refresh_interval_sec", 300) // 5 minutes
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.initial_backoff_ms", 1000)
	v.SetDefault("sync.max_backoff_ms", 10000)
	v.SetDefault("cache.path", "newsstand.db")
	v.SetDefault("cache.max_items", 20)
	v.SetDefault("audio.volume", 0.8)
	v.SetDefault("pruner.interval_sec", 300)
	v.SetDefault("pruner.max_items", 200)
	v.SetDefault("pruner.ttl_sec", 86400)

	// Read config file (optional — env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
