package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DatabaseURL string `env:"DB_URL" envDefault:"sqlite://lightshow.db"`

	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	DeviceURL         string        `env:"DEVICE_URL"`
	DeviceTimeout     time.Duration `env:"DEVICE_TIMEOUT" envDefault:"2s"`
	DeviceStateWindow time.Duration `env:"DEVICE_STATE_WINDOW" envDefault:"500ms"`
	DeviceStateTTL    time.Duration `env:"DEVICE_STATE_TTL" envDefault:"1m"`

	CounterCeiling int `env:"DISPLAY_COUNTER_CEILING" envDefault:"100"`

	QueueOpen         bool          `env:"QUEUE_OPEN" envDefault:"true"`
	EnqueueRateLimit  int           `env:"ENQUEUE_RATE_LIMIT" envDefault:"5"`
	EnqueueRateWindow time.Duration `env:"ENQUEUE_RATE_WINDOW" envDefault:"10m"`
	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES" envDefault:"1048576"`

	WorkerEnabled  bool          `env:"WORKER_ENABLED" envDefault:"true"`
	WorkerInterval time.Duration `env:"WORKER_INTERVAL" envDefault:"2s"`

	AdvertisingDir    string `env:"ADVERTISING_DIR" envDefault:"assets"`
	AdvertisingPrefix string `env:"ADVERTISING_PREFIX" envDefault:"advertising"`

	AdminSecret string `env:"ADMIN_JWT_SECRET"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DeviceURL == "" {
		return errors.New("DEVICE_URL is required")
	}
	if u, err := url.Parse(c.DeviceURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DEVICE_URL must be an absolute URL, got %q", c.DeviceURL)
	}

	if !strings.HasPrefix(c.DatabaseURL, "sqlite://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return errors.New("DB_URL must use the sqlite:// or postgres:// scheme")
	}

	if c.DeviceTimeout <= 0 {
		return errors.New("DEVICE_TIMEOUT must be positive")
	}

	if c.DeviceStateWindow <= 0 {
		return errors.New("DEVICE_STATE_WINDOW must be positive")
	}

	if c.DeviceStateTTL < c.DeviceStateWindow {
		return errors.New("DEVICE_STATE_TTL must not be shorter than DEVICE_STATE_WINDOW")
	}

	if c.CounterCeiling < 1 {
		return errors.New("DISPLAY_COUNTER_CEILING must be at least 1")
	}

	if c.EnqueueRateLimit < 0 {
		return errors.New("ENQUEUE_RATE_LIMIT must not be negative")
	}

	if c.MaxUploadBytes < 1 {
		return errors.New("MAX_UPLOAD_BYTES must be at least 1")
	}

	if c.WorkerEnabled && c.WorkerInterval <= 0 {
		return errors.New("WORKER_INTERVAL must be positive when the worker is enabled")
	}

	return nil
}

// RedisEnabled reports whether display counters should live in Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *Config) GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
