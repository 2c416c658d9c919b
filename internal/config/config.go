// Package config loads runtime configuration from the environment. Every key
// has a default suitable for local development except the secrets, which are
// validated at startup so a misconfigured instance fails fast instead of
// rejecting every callback.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "BAKERY"

type Config struct {
	Service ServiceConfig
	Server  ServerConfig
	Gateway GatewayConfig
	Store   StoreConfig
}

type ServiceConfig struct {
	Name string
	Env  string
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	RefundTimeout time.Duration
}

type StoreConfig struct {
	MaxTxnAttempts int
}

// Load reads BAKERY_* environment variables over the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service.name", "bakery")
	v.SetDefault("service.env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("gateway.base_url", "https://api.gateway.test")
	v.SetDefault("gateway.key_id", "")
	v.SetDefault("gateway.key_secret", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.currency", "INR")
	v.SetDefault("gateway.refund_timeout", 10*time.Second)

	v.SetDefault("store.max_txn_attempts", 5)

	cfg := &Config{
		Service: ServiceConfig{
			Name: v.GetString("service.name"),
			Env:  v.GetString("service.env"),
		},
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Gateway: GatewayConfig{
			BaseURL:       v.GetString("gateway.base_url"),
			KeyID:         v.GetString("gateway.key_id"),
			KeySecret:     v.GetString("gateway.key_secret"),
			WebhookSecret: v.GetString("gateway.webhook_secret"),
			Currency:      v.GetString("gateway.currency"),
			RefundTimeout: v.GetDuration("gateway.refund_timeout"),
		},
		Store: StoreConfig{
			MaxTxnAttempts: v.GetInt("store.max_txn_attempts"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []error
	if c.Gateway.WebhookSecret == "" {
		problems = append(problems, errors.New("BAKERY_GATEWAY_WEBHOOK_SECRET is required"))
	}
	if c.Server.Addr == "" {
		problems = append(problems, errors.New("BAKERY_SERVER_ADDR must not be empty"))
	}
	if c.Store.MaxTxnAttempts < 1 {
		problems = append(problems, errors.New("BAKERY_STORE_MAX_TXN_ATTEMPTS must be at least 1"))
	}
	return errors.Join(problems...)
}
