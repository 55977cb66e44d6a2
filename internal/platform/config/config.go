package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minSecretLength = 16

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	JWTSecret     string `env:"JWT_SECRET"`
	PublishAPIKey string `env:"PUBLISH_API_KEY"`

	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" default:"songiq:events"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE" default:"64"`
	MaxMessageBytes   int64         `env:"MAX_MESSAGE_BYTES" default:"4096"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
	ClientMessageRate       float64 `env:"CLIENT_MESSAGE_RATE" default:"20"`
	ClientMessageBurst      int     `env:"CLIENT_MESSAGE_BURST" default:"40"`
}

// IsDevelopment reports whether localhost origins are accepted and similar dev conveniences apply.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	secrets := []struct{ name, value string }{
		{"JWT_SECRET", cfg.JWTSecret},
		{"PUBLISH_API_KEY", cfg.PublishAPIKey},
	}
	for _, s := range secrets {
		if s.value == "" {
			return fmt.Errorf("%s is required", s.name)
		}
		if len(s.value) < minSecretLength {
			return fmt.Errorf("%s must be at least %d characters", s.name, minSecretLength)
		}
	}

	if cfg.AppURL != "" {
		u, err := url.Parse(cfg.AppURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
		}
	}

	if cfg.HeartbeatInterval < time.Second {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1s, got %v", cfg.HeartbeatInterval)
	}

	positive := []struct {
		name  string
		value float64
	}{
		{"SEND_BUFFER_SIZE", float64(cfg.SendBufferSize)},
		{"MAX_MESSAGE_BYTES", float64(cfg.MaxMessageBytes)},
		{"MAX_WEBSOCKET_CONNECTIONS", float64(cfg.MaxWebSocketConnections)},
		{"MAX_CONNECTIONS_PER_IP", float64(cfg.MaxConnectionsPerIP)},
		{"CONNECTION_RATE", cfg.ConnectionRate},
		{"CONNECTION_BURST", float64(cfg.ConnectionBurst)},
		{"CLIENT_MESSAGE_RATE", cfg.ClientMessageRate},
		{"CLIENT_MESSAGE_BURST", float64(cfg.ClientMessageBurst)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if cfg.RedisChannel == "" {
		return errors.New("REDIS_CHANNEL must not be empty")
	}

	return nil
}
