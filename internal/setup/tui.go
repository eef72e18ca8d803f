package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/captur/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers are the values collected by the wizard.
type Answers struct {
	UserID            string
	Ledger            string
	SQLitePath        string
	SupabaseURL       string
	SupabaseKey       string
	TelemetryInterval string
	AccrualInterval   string
	MaxIncrement      string
	StartLatitude     string
	StartLongitude    string
	HTTPAddr          string
}

func defaultAnswers() Answers {
	return Answers{
		Ledger:            config.LedgerSQLite,
		SQLitePath:        "captur.db",
		TelemetryInterval: "1s",
		AccrualInterval:   "1s",
		MaxIncrement:      "0.05",
		StartLatitude:     "40.7128",
		StartLongitude:    "-74.0060",
		HTTPAddr:          ":8080",
	}
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("CAPTUR CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the written config.
func RunTUI() (string, error) {
	a := defaultAnswers()
	var confirm bool

	// step 1: welcome
	clearScreen("STEP 1: ACCOUNT")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Share your location, earn tokens.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User ID").
				Description("Leave empty to run signed out (no remote writes)").
				Value(&a.UserID),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen("STEP 2: LEDGER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should balances and locations be stored?").
				Options(
					huh.NewOption("Local SQLite file", config.LedgerSQLite),
					huh.NewOption("Supabase", config.LedgerSupabase),
				).
				Value(&a.Ledger),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen("STEP 3: LEDGER SETTINGS")
	var ledgerFields []huh.Field
	if a.Ledger == config.LedgerSupabase {
		ledgerFields = append(ledgerFields,
			huh.NewInput().
				Title("Supabase URL").
				Description("e.g. https://xyzcompany.supabase.co").
				Value(&a.SupabaseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Supabase API Key").
				Description("Leave empty to read "+config.SupabaseKeyEnv+" at startup").
				Value(&a.SupabaseKey).
				EchoMode(huh.EchoModePassword),
		)
	} else {
		ledgerFields = append(ledgerFields,
			huh.NewInput().
				Title("SQLite Path").
				Value(&a.SQLitePath).
				Validate(notEmpty("path")),
		)
	}
	if err = huh.NewForm(huh.NewGroup(ledgerFields...)).Run(); err != nil {
		return "", err
	}

	clearScreen("STEP 4: TIMING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telemetry Interval").
				Description("Duration string (e.g. 1s, 30s)").
				Value(&a.TelemetryInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Accrual Interval").
				Description("Duration string (e.g. 1s)").
				Value(&a.AccrualInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Max Increment").
				Description("Upper bound of the tokens earned per accrual tick").
				Value(&a.MaxIncrement).
				Validate(validateIncrement),
		),
	).Run()
	if err != nil {
		return "", err
	}

	clearScreen("STEP 5: LOCATION")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Start Latitude").
				Value(&a.StartLatitude).
				Validate(validateCoordinate(90)),
			huh.NewInput().
				Title("Start Longitude").
				Value(&a.StartLongitude).
				Validate(validateCoordinate(180)),
			huh.NewInput().
				Title("HTTP Address").
				Value(&a.HTTPAddr).
				Validate(notEmpty("address")),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// confirmation
	clearScreen("FINAL CONFIRMATION")

	account := a.UserID
	if account == "" {
		account = "signed out"
	}
	summary := fmt.Sprintf(
		"User: %s\nLedger: %s\nTelemetry: %s\nAccrual: %s (max %s)\nHTTP: %s\n",
		account, a.Ledger, a.TelemetryInterval, a.AccrualInterval, a.MaxIncrement, a.HTTPAddr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := WriteConfig(config.GeneratedFile, a); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting captur...", config.GeneratedFile)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return config.GeneratedFile, nil
}

// WriteConfig renders the answers as a YAML config file.
func WriteConfig(path string, a Answers) error {
	cfgTmp, err := a.toConfigTmp()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func (a Answers) toConfigTmp() (config.ConfigTmp, error) {
	telemetry, err := time.ParseDuration(a.TelemetryInterval)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("telemetry interval: %w", err)
	}
	accrual, err := time.ParseDuration(a.AccrualInterval)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("accrual interval: %w", err)
	}
	lat, err := strconv.ParseFloat(a.StartLatitude, 64)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("start latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(a.StartLongitude, 64)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("start longitude: %w", err)
	}

	cfgTmp := config.ConfigTmp{
		UserID:            strings.TrimSpace(a.UserID),
		TelemetryInterval: telemetry,
		AccrualInterval:   accrual,
		MaxIncrementStr:   a.MaxIncrement,
		Ledger:            a.Ledger,
		HTTPAddr:          a.HTTPAddr,
		Location:          config.LocationSimulated,
		StartLatitude:     &lat,
		StartLongitude:    &lon,
	}
	if a.Ledger == config.LedgerSupabase {
		cfgTmp.SupabaseURL = a.SupabaseURL
		cfgTmp.SupabaseKey = a.SupabaseKey
	} else {
		cfgTmp.SQLitePath = a.SQLitePath
	}

	return cfgTmp, nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateIncrement(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateCoordinate(limit float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("must be a valid number")
		}
		if v < -limit || v > limit {
			return fmt.Errorf("must be between %g and %g", -limit, limit)
		}
		return nil
	}
}

func validateURL(s string) error {
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		return fmt.Errorf("must start with http:// or https://")
	}
	return nil
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}
