package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: fiksisync\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Scheduler.DailyAt != "09:00" {
		t.Fatalf("default daily_at = %q", cfg.Scheduler.DailyAt)
	}
	if cfg.Scheduler.Timezone != "Europe/Tirane" {
		t.Fatalf("default timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.Source.BaseURL == "" {
		t.Fatal("source base_url should have a default")
	}
	if cfg.Source.MaxRetries != 3 {
		t.Fatalf("default max_retries = %d", cfg.Source.MaxRetries)
	}
	if cfg.OAuth.RefreshWindow != 5*time.Minute {
		t.Fatalf("default refresh_window = %s", cfg.OAuth.RefreshWindow)
	}
	if cfg.Sync.TenantWorkers != 4 {
		t.Fatalf("default tenant_workers = %d", cfg.Sync.TenantWorkers)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  daily_at: "14:30"
  timezone: "UTC"
source:
  request_timeout: 10s
sync:
  tenant_workers: 8
`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Scheduler.DailyAt != "14:30" {
		t.Fatalf("daily_at override lost: %q", cfg.Scheduler.DailyAt)
	}
	if cfg.Source.RequestTimeout != 10*time.Second {
		t.Fatalf("duration decode failed: %s", cfg.Source.RequestTimeout)
	}
	if cfg.Sync.TenantWorkers != 8 {
		t.Fatalf("tenant_workers override lost: %d", cfg.Sync.TenantWorkers)
	}
}

func TestValidateRejectsBadDailyAt(t *testing.T) {
	if _, err := Load(writeConfig(t, "scheduler:\n  daily_at: \"25:99\"\n")); err == nil {
		t.Fatal("invalid daily_at must be rejected")
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	if _, err := Load(writeConfig(t, "scheduler:\n  timezone: \"Mars/Olympus\"\n")); err == nil {
		t.Fatal("unknown timezone must be rejected")
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	if _, err := Load(writeConfig(t, "sync:\n  tenant_workers: 0\n")); err == nil {
		t.Fatal("zero workers must be rejected")
	}
}

func TestParseDailyAt(t *testing.T) {
	got, err := ParseDailyAt("14:30")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if want := 14*time.Hour + 30*time.Minute; got != want {
		t.Fatalf("ParseDailyAt = %s, want %s", got, want)
	}

	if _, err := ParseDailyAt("not-a-time"); err == nil {
		t.Fatal("garbage must be rejected")
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{}
	if loc := cfg.Location(); loc != time.UTC {
		t.Fatalf("empty timezone should resolve to UTC, got %v", loc)
	}
}
