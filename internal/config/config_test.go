package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coinsnap-bridge/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":            "postgres://localhost/bridge",
		"REDIS_URL":               "redis://localhost:6379/0",
		"COINSNAP_STORE_ID":       "store-1",
		"COINSNAP_API_KEY":        "key-1",
		"COINSNAP_WEBHOOK_SECRET": "whsec",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.True(t, cfg.Configured())
	require.False(t, cfg.SeparateGateways)
	require.Equal(t, 30*time.Second, cfg.APICallTimeout)

	require.Len(t, cfg.Gateways, 1)
	require.Equal(t, "coinsnap", cfg.Gateways[0].ID)
	require.Empty(t, cfg.Gateways[0].PaymentMethods)
}

func TestLoadRequiresDatabase(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadGatewayAndStateOverrides(t *testing.T) {
	env := baseEnv()
	env["COINSNAP_GATEWAYS"] = `[
		{"id":"coinsnap_btc","title":"Bitcoin","paymentMethods":["BTC"],"tokenType":"payment"},
		{"id":"coinsnap_ln","title":"Lightning","paymentMethods":["BTC_LightningNetwork","BTC_LNURLPAY"],"tokenType":"payment"}
	]`
	env["COINSNAP_ORDER_STATES"] = `{"Settled":"completed","Expired":"failed"}`
	env["COINSNAP_SEPARATE_GATEWAYS"] = "yes"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.True(t, cfg.SeparateGateways)
	require.Len(t, cfg.Gateways, 2)
	require.Equal(t, []string{"BTC_LightningNetwork", "BTC_LNURLPAY"}, cfg.Gateways[1].PaymentMethods)
	require.Equal(t, "completed", cfg.OrderStates["Settled"])
}

func TestLoadRejectsMalformedGateways(t *testing.T) {
	env := baseEnv()
	env["COINSNAP_GATEWAYS"] = `[{"title":"missing id"}]`
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestNotConfiguredWithoutCredentials(t *testing.T) {
	env := baseEnv()
	env["COINSNAP_API_KEY"] = ""
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.False(t, cfg.Configured())
}
