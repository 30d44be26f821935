package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
mode = "run"

[exchange.main]
api_key = "key"
api_secret = "secret"
`

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "observe"

[exchange]
base_url = "https://api-testnet.bybit.com"

[exchange.main]
api_key = "key"
api_secret = "secret"

[monitor]
poll_interval = "2s"
stop_order_ceiling = 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "observe", cfg.Mode)
	assert.Equal(t, "https://api-testnet.bybit.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval.Duration)
	assert.Equal(t, 8, cfg.Monitor.StopOrderCeiling)

	// Untouched fields keep their defaults.
	assert.Equal(t, "linear", cfg.Exchange.Category)
	assert.Equal(t, 3, cfg.Monitor.FailureThreshold)
	assert.Equal(t, 2, cfg.Monitor.CloseDebounce)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("TPGUARD_EXCHANGE_MAIN_API_SECRET", "from-env")
	t.Setenv("TPGUARD_MONITOR_POLL_INTERVAL", "750ms")
	t.Setenv("TPGUARD_S3_ENABLED", "true")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Exchange.Main.ApiSecret)
	assert.Equal(t, 750*time.Millisecond, cfg.Monitor.PollInterval.Duration)
	assert.True(t, cfg.S3.Enabled)
}

func TestValidateAcceptsDefaultsWithCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.Main = AccountCredentials{ApiKey: "k", ApiSecret: "s"}
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "panic"
	cfg.Exchange.BaseURL = ""
	cfg.Monitor.StopOrderCeiling = 0
	cfg.Monitor.CloseDebounce = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "panic"`)
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "stop_order_ceiling")
	assert.Contains(t, err.Error(), "close_debounce")
}

func TestValidateRequiresMirrorCredentialsWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.Main = AccountCredentials{ApiKey: "k", ApiSecret: "s"}
	cfg.Exchange.MirrorEnabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror.api_key")

	cfg.Exchange.Mirror = AccountCredentials{ApiKey: "mk", ApiSecret: "ms"}
	require.NoError(t, cfg.Validate())
}

func TestValidateSkipsS3ChecksWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.Main = AccountCredentials{ApiKey: "k", ApiSecret: "s"}
	cfg.S3.Enabled = false
	cfg.S3.Bucket = ""
	require.NoError(t, cfg.Validate())
}
