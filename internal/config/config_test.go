package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                 8080,
		DatabaseURL:          "postgres://localhost/test",
		RedisURL:             "redis://localhost:6379",
		BridgeURL:            "ws://localhost:9000",
		PairingExpirySeconds: 300,
		SweepIntervalSeconds: 30,
		MaxConcurrentOpens:   16,
		WebhookMaxAttempts:   3,
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("PairingExpiry converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PairingExpirySeconds: 300}
		assert.Equal(t, 5*time.Minute, cfg.PairingExpiry())
	})

	t.Run("SweepInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SweepIntervalSeconds: 30}
		assert.Equal(t, 30*time.Second, cfg.SweepInterval())
	})

	t.Run("MessageRetention converts days to duration", func(t *testing.T) {
		cfg := &Config{MessageRetentionDays: 2}
		assert.Equal(t, 48*time.Hour, cfg.MessageRetention())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate(false))
	})

	t.Run("rejects sweep slower than expiry", func(t *testing.T) {
		cfg := validConfig()
		cfg.SweepIntervalSeconds = 300
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects non-websocket bridge url", func(t *testing.T) {
		cfg := validConfig()
		cfg.BridgeURL = "http://localhost:9000"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero open concurrency", func(t *testing.T) {
		cfg := validConfig()
		cfg.MaxConcurrentOpens = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("pairing payload key must be 32 bytes of hex", func(t *testing.T) {
		cfg := validConfig()
		cfg.PairingPayloadKey = "abcd"
		assert.Error(t, cfg.Validate(false))

		cfg.PairingPayloadKey = strings.Repeat("zz", 32)
		assert.Error(t, cfg.Validate(false))

		cfg.PairingPayloadKey = strings.Repeat("ab", 32)
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("production only warns on plaintext transports", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate(true))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                   os.Getenv("PORT"),
		"DATABASE_URL":           os.Getenv("DATABASE_URL"),
		"REDIS_URL":              os.Getenv("REDIS_URL"),
		"BRIDGE_URL":             os.Getenv("BRIDGE_URL"),
		"PAIRING_EXPIRY_SECONDS": os.Getenv("PAIRING_EXPIRY_SECONDS"),
		"SWEEP_INTERVAL_SECONDS": os.Getenv("SWEEP_INTERVAL_SECONDS"),
		"LOG_LEVEL":              os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("BRIDGE_URL", "ws://localhost:9000")
		os.Unsetenv("PORT")
		os.Unsetenv("PAIRING_EXPIRY_SECONDS")
		os.Unsetenv("SWEEP_INTERVAL_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, 300, cfg.PairingExpirySeconds)
		assert.Equal(t, 30, cfg.SweepIntervalSeconds)
		assert.Equal(t, 16, cfg.MaxConcurrentOpens)
		assert.Equal(t, int64(16<<20), cfg.MaxMediaBytes)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("BRIDGE_URL", "ws://localhost:9000")
		os.Setenv("PORT", "3000")
		os.Setenv("PAIRING_EXPIRY_SECONDS", "120")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 120, cfg.PairingExpirySeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required BRIDGE_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("BRIDGE_URL")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("BRIDGE_URL", "ws://localhost:9000")

		_, err := Load()
		assert.Error(t, err)
	})
}
