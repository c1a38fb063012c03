// Package server provides configuration helpers that define runtime
// defaults, validation, and rate-limiting parameters for the chat
// relay.
package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the server configuration. Values are read from the
// environment; every field has a working default so the server starts
// with no configuration at all.
type Config struct {
	Port           string   `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:8080"`

	// MaxMessageSize caps a single inbound WebSocket frame in bytes.
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`

	// RateLimitRPS and RateLimitBurst throttle inbound events per
	// connection. Events over the limit are dropped, not queued.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// HistoryLimit caps the catch-up snapshot sent to a joining client.
	// Zero or negative sends the full log.
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"500"`

	// AdminSecret signs admin broadcast tokens. When empty, the
	// admin_broadcast command is disabled entirely.
	AdminSecret string `env:"CHAT_ADMIN_SECRET"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// NewConfig returns a Config populated with defaults only.
func NewConfig() *Config {
	cfg := &Config{}
	// Parsing against an empty environment applies the envDefault tags.
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})
	return cfg.sanitize()
}

// NewConfigFromEnv builds a Config from the process environment,
// falling back to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg.sanitize(), nil
}

// sanitize clamps unusable values back to defaults; a zero message size
// or rate limit would stall every connection.
func (c *Config) sanitize() *Config {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}
