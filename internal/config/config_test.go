package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("JWT_ISSUER", "fxmargin")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INTERNAL_API_TOKEN", "internal")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Empty(t, c.DBDSN)
	assert.Equal(t, time.Hour, c.JWTTTL)
	assert.Equal(t, 5*time.Second, c.RepriceInterval)
	assert.Equal(t, 10*time.Second, c.MarginCheckInterval)
	assert.Equal(t, "120", c.MarginCallLevel.String())
	assert.Equal(t, "50", c.StopOutLevel.String())
	assert.True(t, c.CommissionPerLot.IsZero())
	assert.True(t, c.SwapRollover)
	assert.Equal(t, 100, c.DefaultLeverage)
	assert.Equal(t, "10000", c.DefaultBalance.String())
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
}

func TestLoadMissing(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "JWT_ISSUER", "JWT_SECRET", "INTERNAL_API_TOKEN"} {
		t.Setenv(k, "")
	}
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, "missing required env: HTTP_ADDR,JWT_ISSUER,JWT_SECRET,INTERNAL_API_TOKEN", err.Error())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("REPRICE_INTERVAL", "1s")
	t.Setenv("MARGIN_CALL_LEVEL", "150")
	t.Setenv("STOP_OUT_LEVEL", "30")
	t.Setenv("COMMISSION_PER_LOT", "3.5")
	t.Setenv("SWAP_ROLLOVER_ENABLED", "false")
	t.Setenv("DEFAULT_LEVERAGE", "200")
	t.Setenv("LOG_FORMAT", "JSON")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.RepriceInterval)
	assert.Equal(t, "150", c.MarginCallLevel.String())
	assert.Equal(t, "30", c.StopOutLevel.String())
	assert.Equal(t, "3.5", c.CommissionPerLot.String())
	assert.False(t, c.SwapRollover)
	assert.Equal(t, 200, c.DefaultLeverage)
	assert.Equal(t, "json", c.LogFormat)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"REPRICE_INTERVAL":      "often",
		"MARGIN_CALL_LEVEL":     "high",
		"SWAP_ROLLOVER_ENABLED": "maybe",
		"DEFAULT_LEVERAGE":      "0",
		"LOG_FORMAT":            "xml",
		"STOP_OUT_LEVEL":        "200",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("FXMARGIN_DOTENV_PROBE=loaded\n"), 0o600))
	t.Setenv("FXMARGIN_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("FXMARGIN_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("FXMARGIN_DOTENV_PROBE"))
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}
