package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(SupabaseKeyEnv, "")

	cfg, err := Load(Flags{})
	require.NoError(t, err)

	assert.Equal(t, "", cfg.UserID)
	assert.Equal(t, time.Second, cfg.TelemetryInterval)
	assert.Equal(t, time.Second, cfg.AccrualInterval)
	assert.True(t, cfg.MaxIncrement.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 10*time.Second, cfg.OpTimeout)
	assert.Equal(t, LedgerSQLite, cfg.Ledger)
	assert.Equal(t, "captur.db", cfg.SQLitePath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, LocationSimulated, cfg.Location)
	assert.InDelta(t, 40.7128, cfg.StartLatitude, 1e-9)
	assert.InDelta(t, -74.006, cfg.StartLongitude, 1e-9)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
user_id: " 7c1f "
telemetry_interval: 2s
accrual_interval: 500ms
max_increment: "0.10"
op_timeout: 3s
preferences_dir: /var/lib/captur/prefs
ledger: supabase
supabase_url: https://abc.supabase.co/
supabase_key: anon-key
http_addr: 127.0.0.1:9090
start_latitude: 0
start_longitude: 151.2093
deny_location: true
`)

	cfg, err := Load(Flags{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, "7c1f", cfg.UserID)
	assert.Equal(t, 2*time.Second, cfg.TelemetryInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.AccrualInterval)
	assert.True(t, cfg.MaxIncrement.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 3*time.Second, cfg.OpTimeout)
	assert.Equal(t, "/var/lib/captur/prefs", cfg.PreferencesDir)
	assert.Equal(t, LedgerSupabase, cfg.Ledger)
	assert.Equal(t, "https://abc.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, "anon-key", cfg.SupabaseKey)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Zero(t, cfg.StartLatitude)
	assert.InDelta(t, 151.2093, cfg.StartLongitude, 1e-9)
	assert.True(t, cfg.DenyLocation)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "user_id: file-user\nhttp_addr: :1111\n")

	flags, err := ParseFlags([]string{"-config", path, "-user", "flag-user", "-http", ":2222", "-deny-location"})
	require.NoError(t, err)

	cfg, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, "flag-user", cfg.UserID)
	assert.Equal(t, ":2222", cfg.HTTPAddr)
	assert.True(t, cfg.DenyLocation)
}

func TestLoad_SupabaseKeyFromEnv(t *testing.T) {
	t.Setenv(SupabaseKeyEnv, "env-key")
	path := writeConfig(t, "ledger: supabase\nsupabase_url: https://abc.supabase.co\n")

	cfg, err := Load(Flags{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.SupabaseKey)
}

func TestLoad_SupabaseAccessToken(t *testing.T) {
	t.Setenv(SupabaseKeyEnv, "k")
	t.Setenv(SupabaseAccessTokenEnv, "env-jwt")

	path := writeConfig(t, "ledger: supabase\nsupabase_url: https://abc.supabase.co\n")
	cfg, err := Load(Flags{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "env-jwt", cfg.SupabaseAccessToken)

	path = writeConfig(t, "ledger: supabase\nsupabase_url: https://abc.supabase.co\nsupabase_access_token: file-jwt\n")
	cfg, err = Load(Flags{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "file-jwt", cfg.SupabaseAccessToken)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv(SupabaseKeyEnv, "")

	cases := map[string]string{
		"negative increment":   "max_increment: \"-0.01\"\n",
		"bad increment":        "max_increment: lots\n",
		"unknown ledger":       "ledger: postgres\n",
		"supabase without url": "ledger: supabase\nsupabase_key: k\n",
		"supabase without key": "ledger: supabase\nsupabase_url: https://abc.supabase.co\n",
		"unknown location":     "location: gps\n",
		"latitude range":       "start_latitude: 91\n",
		"longitude range":      "start_longitude: -181\n",
		"negative interval":    "accrual_interval: -1s\n",
		"broken yaml":          "user_id: [\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(Flags{ConfigPath: writeConfig(t, body)})
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(Flags{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}

func TestParseFlags_Setup(t *testing.T) {
	flags, err := ParseFlags([]string{"-setup"})
	require.NoError(t, err)
	assert.True(t, flags.Setup)

	_, err = ParseFlags([]string{"-unknown"})
	require.Error(t, err)
}
