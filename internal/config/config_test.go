package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BAKERY_GATEWAY_WEBHOOK_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bakery", cfg.Service.Name)
	assert.Equal(t, "development", cfg.Service.Env)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "INR", cfg.Gateway.Currency)
	assert.Equal(t, 10*time.Second, cfg.Gateway.RefundTimeout)
	assert.Equal(t, 5, cfg.Store.MaxTxnAttempts)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BAKERY_GATEWAY_WEBHOOK_SECRET", "test-secret")
	t.Setenv("BAKERY_SERVER_ADDR", ":9090")
	t.Setenv("BAKERY_SERVICE_ENV", "production")
	t.Setenv("BAKERY_GATEWAY_REFUND_TIMEOUT", "3s")
	t.Setenv("BAKERY_STORE_MAX_TXN_ATTEMPTS", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "production", cfg.Service.Env)
	assert.Equal(t, 3*time.Second, cfg.Gateway.RefundTimeout)
	assert.Equal(t, 9, cfg.Store.MaxTxnAttempts)
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	t.Setenv("BAKERY_GATEWAY_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAKERY_GATEWAY_WEBHOOK_SECRET")
}
