package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mail engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SES       SESConfig       `yaml:"ses"`
	Mailgun   MailgunConfig   `yaml:"mailgun"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection used by the rate/quota guard.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SESConfig holds AWS SES credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// MailgunConfig holds Mailgun API credentials.
type MailgunConfig struct {
	APIKey string `yaml:"api_key"`
	Domain string `yaml:"domain"`
}

// DispatchConfig controls the dispatcher pool.
type DispatchConfig struct {
	NumWorkers            int    `yaml:"num_workers"`
	BatchSize             int    `yaml:"batch_size"`
	PollIntervalMs        int    `yaml:"poll_interval_ms"`
	AttemptTimeoutSeconds int    `yaml:"attempt_timeout_seconds"`
	DefaultESP            string `yaml:"default_esp"`
}

// PollInterval returns the poll interval as a duration.
func (d DispatchConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

// AttemptTimeout returns the per-send-attempt timeout.
func (d DispatchConfig) AttemptTimeout() time.Duration {
	return time.Duration(d.AttemptTimeoutSeconds) * time.Second
}

// RateLimitConfig sizes the token bucket and daily quota to the provider plan.
type RateLimitConfig struct {
	PerSecond  int `yaml:"per_second"`
	Burst      int `yaml:"burst"`
	DailyQuota int `yaml:"daily_quota"`
}

// RetryConfig controls the backoff policy for transient send failures.
type RetryConfig struct {
	BaseDelaySeconds int `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds"`
	MaxRetries       int `yaml:"max_retries"`
}

// BaseDelay returns the initial backoff delay.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the backoff ceiling.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds) * time.Second
}

// Load reads configuration from a YAML file, applies defaults, then applies
// environment overrides. A missing file is not an error; env-only deployments
// are supported.
func Load(path string) (*Config, error) {
	// .env is optional, for local development
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5,
		},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		SES:   SESConfig{Region: "us-east-1"},
		Dispatch: DispatchConfig{
			NumWorkers:            4,
			BatchSize:             50,
			PollIntervalMs:        500,
			AttemptTimeoutSeconds: 30,
			DefaultESP:            "ses",
		},
		RateLimit: RateLimitConfig{
			PerSecond:  14, // SES sandbox-tier sustained rate
			Burst:      28,
			DailyQuota: 50000,
		},
		Retry: RetryConfig{
			BaseDelaySeconds: 1,
			MaxDelaySeconds:  30,
			MaxRetries:       3,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("MAILGUN_API_KEY"); v != "" {
		cfg.Mailgun.APIKey = v
	}
	if v := os.Getenv("MAILGUN_DOMAIN"); v != "" {
		cfg.Mailgun.Domain = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}
