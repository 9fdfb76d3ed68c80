package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

// Config holds all configuration for the VitaNips care-billing service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Security SecurityConfig `mapstructure:"security"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Cron     CronConfig     `mapstructure:"cron"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LogConfig selects the zap logger flavour
type LogConfig struct {
	Format string `mapstructure:"format"` // console or json
	Level  string `mapstructure:"level"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
	InMemory   bool   `mapstructure:"in_memory"`
}

// SecurityConfig holds API security settings
type SecurityConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	// GeneratedSecret is set when no secret was configured and a random one
	// was filled in; tokens signed with it die with the process
	GeneratedSecret bool `mapstructure:"-"`
}

// BillingConfig holds money and rate-table settings
type BillingConfig struct {
	Currency               string `mapstructure:"currency"`
	RatesFile              string `mapstructure:"rates_file"`
	WatchRates             bool   `mapstructure:"watch_rates"`
	PrescriptionValidDays  int    `mapstructure:"prescription_valid_days"`
	FreeFollowUpDays       int    `mapstructure:"free_follow_up_days"`
	DefaultAppointmentMins int    `mapstructure:"default_appointment_minutes"`
}

// GatewayConfig holds payment gateway verification settings
type GatewayConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	SecretKey        string  `mapstructure:"secret_key"`
	Timeout          int     `mapstructure:"timeout"`
	RequestsPerSec   float64 `mapstructure:"requests_per_second"`
	Burst            int     `mapstructure:"burst"`
	BreakerFailures  uint32  `mapstructure:"breaker_failures"`
	BreakerOpenSecs  int     `mapstructure:"breaker_open_seconds"`
}

// NotifyConfig holds notification dispatch settings
type NotifyConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
	PollIntervalMs int     `mapstructure:"poll_interval_ms"`
}

// CronConfig holds scheduled sweep settings
type CronConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	NoShowSchedule     string `mapstructure:"no_show_schedule"`
	ExpirySchedule     string `mapstructure:"expiry_schedule"`
	NoShowGraceMinutes int    `mapstructure:"no_show_grace_minutes"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "vitanips.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "vitanips.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (VITANIPS_SERVER_PORT, VITANIPS_GATEWAY_SECRET_KEY, etc.)
	v.SetEnvPrefix("VITANIPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("log.format", "console")
	v.SetDefault("log.level", "info")

	v.SetDefault("security.allow_origins", []string{"*"})

	v.SetDefault("billing.currency", "NGN")
	v.SetDefault("billing.watch_rates", true)
	v.SetDefault("billing.prescription_valid_days", 30)
	v.SetDefault("billing.free_follow_up_days", 7)
	v.SetDefault("billing.default_appointment_minutes", 30)

	v.SetDefault("gateway.base_url", "https://api.flutterwave.com/v3")
	v.SetDefault("gateway.timeout", 15)
	v.SetDefault("gateway.requests_per_second", 5)
	v.SetDefault("gateway.burst", 10)
	v.SetDefault("gateway.breaker_failures", 5)
	v.SetDefault("gateway.breaker_open_seconds", 30)

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.rate_per_second", 20)
	v.SetDefault("notify.burst", 40)
	v.SetDefault("notify.poll_interval_ms", 500)

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.no_show_schedule", "*/15 * * * *")
	v.SetDefault("cron.expiry_schedule", "@hourly")
	v.SetDefault("cron.no_show_grace_minutes", 30)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vitanips")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "vitanips")
}

// loadEnvOverrides applies env vars that have aliases outside the VITANIPS_ prefix
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("VITANIPS_GATEWAY_SECRET_KEY"); v != "" {
		cfg.Gateway.SecretKey = v
	}
	if v := ResolveEnvWithAliases("VITANIPS_SECURITY_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}

	cfg.Server.Address = GetEnvDefault("VITANIPS_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("VITANIPS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Storage.DataDir = GetEnvDefault("VITANIPS_STORAGE_DATA_DIR", cfg.Storage.DataDir)
	cfg.Billing.RatesFile = expandPath(GetEnvDefault("VITANIPS_BILLING_RATES_FILE", cfg.Billing.RatesFile))
}

func validate(cfg *Config) error {
	if cfg.Billing.Currency == "" {
		return apperrors.With(apperrors.ErrConfigInvalid, "billing.currency is required")
	}
	if len(cfg.Billing.Currency) != 3 {
		return apperrors.With(apperrors.ErrConfigInvalid, "billing.currency must be an ISO 4217 code, got %q", cfg.Billing.Currency)
	}
	cfg.Billing.Currency = strings.ToUpper(cfg.Billing.Currency)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return apperrors.With(apperrors.ErrConfigInvalid, "server.port out of range: %d", cfg.Server.Port)
	}

	if cfg.Billing.PrescriptionValidDays <= 0 {
		return apperrors.With(apperrors.ErrConfigInvalid, "billing.prescription_valid_days must be positive")
	}

	if cfg.Gateway.RequestsPerSec <= 0 {
		cfg.Gateway.RequestsPerSec = 5
	}

	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString()
		cfg.Security.GeneratedSecret = true
	}

	return nil
}

func generateRandomString() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// Default returns a validated configuration without touching disk, for tests and tooling
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Storage.InMemory = true
	_ = validate(&cfg)
	return &cfg
}
