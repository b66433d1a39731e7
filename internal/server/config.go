// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Tyrowin/chatrelay/internal/relay"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"BURST" default:"20"`
	RefillInterval time.Duration `envconfig:"REFILL_INTERVAL" default:"1s"`
}

// Config holds the relay server configuration.
type Config struct {
	Port              string          `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins    []string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize    int64           `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	RateLimit         RateLimitConfig `envconfig:"RATE_LIMIT"`
	SendBufferSize    int             `envconfig:"SEND_BUFFER_SIZE" default:"256"`
	PongWait          time.Duration   `envconfig:"PONG_WAIT" default:"60s"`
	WriteWait         time.Duration   `envconfig:"WRITE_WAIT" default:"10s"`
	ShutdownTimeout   time.Duration   `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	EchoSenderDevices bool            `envconfig:"ECHO_SENDER_DEVICES" default:"false"`
	LogLevel          string          `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string          `envconfig:"LOG_FORMAT" default:"json"`
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 64 << 10,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		SendBufferSize:  256,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	sanitized := Sanitize(cfg)
	return &sanitized, nil
}

// Sanitize replaces zero or invalid values with defaults.
func Sanitize(cfg Config) Config {
	def := NewConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// HubOptions maps the configuration onto relay hub options.
func (c Config) HubOptions() relay.Options {
	return relay.Options{
		SendBufferSize:    c.SendBufferSize,
		MaxMessageSize:    c.MaxMessageSize,
		RateLimitBurst:    c.RateLimit.Burst,
		RateLimitInterval: c.RateLimit.RefillInterval,
		PongWait:          c.PongWait,
		WriteWait:         c.WriteWait,
		EchoSenderDevices: c.EchoSenderDevices,
	}
}
