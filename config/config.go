// Package config loads the captur daemon configuration from a YAML file and
// command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	LedgerSQLite   = "sqlite"
	LedgerSupabase = "supabase"

	LocationSimulated = "simulated"

	// SupabaseKeyEnv supplies the Supabase API key when the file leaves it empty.
	SupabaseKeyEnv = "SUPABASE_KEY"
	// SupabaseAccessTokenEnv supplies the user's JWT when the file leaves it empty.
	SupabaseAccessTokenEnv = "SUPABASE_ACCESS_TOKEN"

	// GeneratedFile is where the setup wizard writes its result.
	GeneratedFile = "config.gen.yaml"
)

const (
	defaultTelemetryInterval = time.Second
	defaultAccrualInterval   = time.Second
	defaultMaxIncrement      = "0.05"
	defaultOpTimeout         = 10 * time.Second
	defaultPreferencesDir    = "captur-prefs"
	defaultSQLitePath        = "captur.db"
	defaultHTTPAddr          = ":8080"
	defaultStartLatitude     = 40.7128
	defaultStartLongitude    = -74.0060
)

type Config struct {
	UserID            string
	TelemetryInterval time.Duration
	AccrualInterval   time.Duration
	MaxIncrement      decimal.Decimal
	OpTimeout         time.Duration
	PreferencesDir    string
	Ledger            string
	SQLitePath        string
	SupabaseURL       string
	SupabaseKey       string
	// SupabaseAccessToken, when set, is sent as bearer instead of the API key.
	SupabaseAccessToken string
	HTTPAddr            string
	Location            string
	StartLatitude       float64
	StartLongitude      float64
	DenyLocation        bool
}

type ConfigTmp struct {
	UserID            string        `yaml:"user_id,omitempty"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval,omitempty"`
	AccrualInterval   time.Duration `yaml:"accrual_interval,omitempty"`
	MaxIncrementStr   string        `yaml:"max_increment,omitempty"`
	OpTimeout         time.Duration `yaml:"op_timeout,omitempty"`
	PreferencesDir    string        `yaml:"preferences_dir,omitempty"`
	Ledger            string        `yaml:"ledger,omitempty"`
	SQLitePath        string        `yaml:"sqlite_path,omitempty"`
	SupabaseURL       string        `yaml:"supabase_url,omitempty"`
	SupabaseKey       string        `yaml:"supabase_key,omitempty"`
	SupabaseToken     string        `yaml:"supabase_access_token,omitempty"`
	HTTPAddr          string        `yaml:"http_addr,omitempty"`
	Location          string        `yaml:"location,omitempty"`
	StartLatitude     *float64      `yaml:"start_latitude,omitempty"`
	StartLongitude    *float64      `yaml:"start_longitude,omitempty"`
	DenyLocation      bool          `yaml:"deny_location,omitempty"`
}

// Flags are the command-line arguments. Non-empty values override the file.
type Flags struct {
	ConfigPath   string
	Setup        bool
	UserID       string
	HTTPAddr     string
	Ledger       string
	SQLitePath   string
	DenyLocation bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	var f Flags

	fs := flag.NewFlagSet("captur", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive configuration wizard")
	fs.StringVar(&f.UserID, "user", "", "signed-in user id, empty means signed out")
	fs.StringVar(&f.HTTPAddr, "http", "", "http listen address, example: :8080")
	fs.StringVar(&f.Ledger, "ledger", "", "remote ledger backend: sqlite or supabase")
	fs.StringVar(&f.SQLitePath, "sqlite", "", "path to the sqlite ledger database")
	fs.BoolVar(&f.DenyLocation, "deny-location", false, "simulate a denied location permission")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return f, nil
}

// Get parses os.Args and loads the configuration they point to.
func Get() (Config, error) {
	f, err := ParseFlags(os.Args[1:])
	if err != nil {
		return Config{}, err
	}

	return Load(f)
}

// Load reads the file named by f.ConfigPath, if any, applies flag overrides
// and defaults, and validates the result.
func Load(f Flags) (Config, error) {
	var tmp ConfigTmp
	if f.ConfigPath != "" {
		data, err := os.ReadFile(f.ConfigPath)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			return Config{}, fmt.Errorf("incorrect yaml config %s: %w", f.ConfigPath, err)
		}
	}

	if f.UserID != "" {
		tmp.UserID = f.UserID
	}
	if f.HTTPAddr != "" {
		tmp.HTTPAddr = f.HTTPAddr
	}
	if f.Ledger != "" {
		tmp.Ledger = f.Ledger
	}
	if f.SQLitePath != "" {
		tmp.SQLitePath = f.SQLitePath
	}
	if f.DenyLocation {
		tmp.DenyLocation = true
	}

	return tmp.toConfig()
}

func (c ConfigTmp) toConfig() (Config, error) {
	cfg := Config{
		UserID:              strings.TrimSpace(c.UserID),
		TelemetryInterval:   c.TelemetryInterval,
		AccrualInterval:     c.AccrualInterval,
		OpTimeout:           c.OpTimeout,
		PreferencesDir:      c.PreferencesDir,
		Ledger:              strings.ToLower(c.Ledger),
		SQLitePath:          c.SQLitePath,
		SupabaseURL:         strings.TrimRight(c.SupabaseURL, "/"),
		SupabaseKey:         c.SupabaseKey,
		SupabaseAccessToken: c.SupabaseToken,
		HTTPAddr:            c.HTTPAddr,
		Location:            strings.ToLower(c.Location),
		StartLatitude:       defaultStartLatitude,
		StartLongitude:      defaultStartLongitude,
		DenyLocation:        c.DenyLocation,
	}

	if cfg.TelemetryInterval == 0 {
		cfg.TelemetryInterval = defaultTelemetryInterval
	}
	if cfg.AccrualInterval == 0 {
		cfg.AccrualInterval = defaultAccrualInterval
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.PreferencesDir == "" {
		cfg.PreferencesDir = defaultPreferencesDir
	}
	if cfg.Ledger == "" {
		cfg.Ledger = LedgerSQLite
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}
	if cfg.SupabaseKey == "" {
		cfg.SupabaseKey = os.Getenv(SupabaseKeyEnv)
	}
	if cfg.SupabaseAccessToken == "" {
		cfg.SupabaseAccessToken = os.Getenv(SupabaseAccessTokenEnv)
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.Location == "" {
		cfg.Location = LocationSimulated
	}
	if c.StartLatitude != nil {
		cfg.StartLatitude = *c.StartLatitude
	}
	if c.StartLongitude != nil {
		cfg.StartLongitude = *c.StartLongitude
	}

	maxIncrement := c.MaxIncrementStr
	if maxIncrement == "" {
		maxIncrement = defaultMaxIncrement
	}
	inc, err := decimal.NewFromString(maxIncrement)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'max_increment' param in yaml config (must be a decimal), error: %w", err)
	}
	cfg.MaxIncrement = inc

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks value ranges and backend-specific requirements.
func (c Config) Validate() error {
	if c.TelemetryInterval < 0 {
		return fmt.Errorf("invalid 'telemetry_interval': %s", c.TelemetryInterval)
	}
	if c.AccrualInterval < 0 {
		return fmt.Errorf("invalid 'accrual_interval': %s", c.AccrualInterval)
	}
	if c.OpTimeout < 0 {
		return fmt.Errorf("invalid 'op_timeout': %s", c.OpTimeout)
	}
	if c.MaxIncrement.IsNegative() {
		return fmt.Errorf("invalid 'max_increment': %s, must not be negative", c.MaxIncrement)
	}

	switch c.Ledger {
	case LedgerSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("'sqlite_path' is required for the sqlite ledger")
		}
	case LedgerSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("'supabase_url' is required for the supabase ledger")
		}
		if c.SupabaseKey == "" {
			return fmt.Errorf("'supabase_key' or %s is required for the supabase ledger", SupabaseKeyEnv)
		}
	default:
		return fmt.Errorf("unsupported ledger %q, use %s or %s", c.Ledger, LedgerSQLite, LedgerSupabase)
	}

	if c.Location != LocationSimulated {
		return fmt.Errorf("unsupported location source %q", c.Location)
	}
	if c.StartLatitude < -90 || c.StartLatitude > 90 {
		return fmt.Errorf("invalid 'start_latitude': %f", c.StartLatitude)
	}
	if c.StartLongitude < -180 || c.StartLongitude > 180 {
		return fmt.Errorf("invalid 'start_longitude': %f", c.StartLongitude)
	}

	return nil
}
