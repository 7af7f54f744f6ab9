package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	DatabaseURL             string `env:"DATABASE_URL,required"`
	RedisURL                string `env:"REDIS_URL,required"`
	BridgeURL               string `env:"BRIDGE_URL,required"`
	BridgeToken             string `env:"BRIDGE_TOKEN"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
	PairingExpirySeconds    int    `env:"PAIRING_EXPIRY_SECONDS" envDefault:"300"`
	SweepIntervalSeconds    int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"30"`
	MaxConcurrentOpens      int    `env:"MAX_CONCURRENT_OPENS" envDefault:"16"`
	OpenQueueTimeoutSeconds int    `env:"OPEN_QUEUE_TIMEOUT_SECONDS" envDefault:"10"`
	WebhookTimeoutSeconds   int    `env:"WEBHOOK_TIMEOUT_SECONDS" envDefault:"5"`
	WebhookMaxAttempts      int    `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	WebhookRatePerSecond    int    `env:"WEBHOOK_RATE_PER_SECOND" envDefault:"50"`
	MessageRetentionDays    int    `env:"MESSAGE_RETENTION_DAYS" envDefault:"30"`
	MaxMediaBytes           int64  `env:"MAX_MEDIA_BYTES" envDefault:"16777216"`
	WebhookSigningSecret    string `env:"WEBHOOK_SIGNING_SECRET"`
	PairingPayloadKey       string `env:"PAIRING_PAYLOAD_KEY"`
}

func (c *Config) PairingExpiry() time.Duration {
	return time.Duration(c.PairingExpirySeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) OpenQueueTimeout() time.Duration {
	return time.Duration(c.OpenQueueTimeoutSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

func (c *Config) MessageRetention() time.Duration {
	return time.Duration(c.MessageRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.PairingExpirySeconds <= 0 {
		return fmt.Errorf("PAIRING_EXPIRY_SECONDS must be positive")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	// A sweep slower than the expiry window would let stale pairing codes
	// survive more than twice their lifetime.
	if c.SweepIntervalSeconds >= c.PairingExpirySeconds {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS (%d) must be shorter than PAIRING_EXPIRY_SECONDS (%d)",
			c.SweepIntervalSeconds, c.PairingExpirySeconds)
	}
	if c.MaxConcurrentOpens <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_OPENS must be positive")
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive")
	}

	if c.PairingPayloadKey != "" {
		key, err := hex.DecodeString(c.PairingPayloadKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("PAIRING_PAYLOAD_KEY must be 64 hex characters")
		}
	}

	u, err := url.Parse(c.BridgeURL)
	if err != nil {
		return fmt.Errorf("BRIDGE_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("BRIDGE_URL must use ws:// or wss://")
	}

	if isProduction {
		if u.Scheme == "ws" {
			log.Warn().Msg("BRIDGE_URL uses ws:// (not TLS) in production: consider using wss://")
		}
		if c.BridgeToken == "" {
			log.Warn().Msg("BRIDGE_TOKEN is empty in production: bridge connections are unauthenticated")
		}
		if c.WebhookSigningSecret == "" {
			log.Warn().Msg("WEBHOOK_SIGNING_SECRET is empty in production: webhook deliveries are unsigned")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
