package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"STORE_DRIVER", "PAYMENT_CURRENCY", "IDEMPOTENCY_TTL_SECONDS", "PAYMENT_GATEWAY_URL", "KAFKA_BROKERS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "INR", cfg.Payment.Currency)
	assert.Equal(t, 24*time.Hour, cfg.Business.IdempotencyTTL)
	assert.Empty(t, cfg.Payment.GatewayURL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("PAYMENT_CURRENCY", "usd")
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "5")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "USD", cfg.Payment.Currency)
	assert.Equal(t, 5*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	production := func() *Config {
		return &Config{
			Server:  ServerConfig{Env: "production"},
			Auth:    AuthConfig{JWTSecret: "a-real-secret"},
			Payment: PaymentConfig{GatewayURL: "https://api.razorpay.com", KeySecret: "live-secret"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"complete", func(*Config) {}, ""},
		{"default jwt secret", func(c *Config) { c.Auth.JWTSecret = DefaultJWTSecret }, "JWT_SECRET"},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET"},
		{"default gateway secret", func(c *Config) { c.Payment.KeySecret = DefaultPaymentKeySecret }, "PAYMENT_KEY_SECRET"},
		{"sandbox gateway", func(c *Config) { c.Payment.GatewayURL = "" }, "PAYMENT_GATEWAY_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := production()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ProductionDefaultsRejected(t *testing.T) {
	for _, key := range []string{"JWT_SECRET", "PAYMENT_KEY_SECRET", "PAYMENT_GATEWAY_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("ENV", "production")

	err := Load().Validate()
	assert.ErrorContains(t, err, "JWT_SECRET")
	assert.ErrorContains(t, err, "PAYMENT_KEY_SECRET")
	assert.ErrorContains(t, err, "PAYMENT_GATEWAY_URL")
}

func TestValidate_DevelopmentAllowsDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")

	assert.NoError(t, Load().Validate())
}
