package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fiksisync/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Sync      SyncConfig      `mapstructure:"sync"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the daily sync cadence.
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DailyAt         string `mapstructure:"daily_at"`
	Timezone        string `mapstructure:"timezone"`
	AdvisoryLockKey int64  `mapstructure:"advisory_lock_key"`
}

// SourceConfig covers the central-bank fixing page.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PagePath       string        `mapstructure:"page_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// OAuthConfig captures identity-provider connectivity for token refresh.
type OAuthConfig struct {
	TokenURL        string        `mapstructure:"token_url"`
	SandboxTokenURL string        `mapstructure:"sandbox_token_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RefreshWindow   time.Duration `mapstructure:"refresh_window"`
}

// LedgerConfig captures the external ledger API endpoints.
type LedgerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SandboxBaseURL string        `mapstructure:"sandbox_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// VaultConfig holds the secret the credential vault derives its key from.
type VaultConfig struct {
	Secret string `mapstructure:"secret"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	TenantWorkers int `mapstructure:"tenant_workers"`
}

// HTTPConfig configures the admin trigger/status listener.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FIKSISYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fiksisync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_at", "09:00")
	v.SetDefault("scheduler.timezone", "Europe/Tirane")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66696b73))

	v.SetDefault("source.base_url", "https://www.bankofalbania.org")
	v.SetDefault("source.page_path", "/Tregjet/Kursi_zyrtar_i_kembimit/")
	v.SetDefault("source.request_timeout", "30s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_backoff", "2s")
	v.SetDefault("source.user_agent", "fiksisync/1.0")

	v.SetDefault("oauth.token_url", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer")
	v.SetDefault("oauth.sandbox_token_url", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer")
	v.SetDefault("oauth.request_timeout", "30s")
	v.SetDefault("oauth.refresh_window", "5m")

	v.SetDefault("ledger.base_url", "https://quickbooks.api.intuit.com")
	v.SetDefault("ledger.sandbox_base_url", "https://sandbox-quickbooks.api.intuit.com")
	v.SetDefault("ledger.request_timeout", "30s")

	v.SetDefault("sync.tenant_workers", 4)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if _, err := ParseDailyAt(c.Scheduler.DailyAt); err != nil {
		return fmt.Errorf("scheduler.daily_at: %w", err)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.MaxRetries < 1 {
		return fmt.Errorf("source.max_retries must be at least 1")
	}
	if c.OAuth.RefreshWindow <= 0 {
		return fmt.Errorf("oauth.refresh_window must be greater than zero")
	}
	if c.Sync.TenantWorkers <= 0 {
		return fmt.Errorf("sync.tenant_workers must be greater than zero")
	}
	return nil
}

// ParseDailyAt parses an HH:MM wall-clock value into an offset from midnight.
func ParseDailyAt(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Location resolves the configured scheduler timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
