package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_BIND_ADDR",
		"APP_METRICS_NAMESPACE",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"REMIND_TICK_INTERVAL",
		"REMIND_WINDOW",
		"REMIND_DEFAULT_HOUR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "tasknest" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "tasknest")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.RemindTickInterval != time.Minute || cfg.RemindWindow != time.Minute {
		t.Fatalf("reminder timing = %v/%v, want 1m/1m", cfg.RemindTickInterval, cfg.RemindWindow)
	}
	if cfg.RemindDefaultHour != 18 {
		t.Fatalf("RemindDefaultHour = %d, want 18", cfg.RemindDefaultHour)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin defaults to true, want false")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_BIND_ADDR", ":9999")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("REMIND_TICK_INTERVAL", "30s")
	t.Setenv("REMIND_WINDOW", "45s")
	t.Setenv("REMIND_DEFAULT_HOUR", "9")
	t.Setenv("DATABASE_URL", "postgres://localhost/tasknest")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9999")
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.RemindTickInterval != 30*time.Second || cfg.RemindWindow != 45*time.Second {
		t.Fatalf("reminder timing = %v/%v, want 30s/45s", cfg.RemindTickInterval, cfg.RemindWindow)
	}
	if cfg.RemindDefaultHour != 9 {
		t.Fatalf("RemindDefaultHour = %d, want 9", cfg.RemindDefaultHour)
	}
	if cfg.DatabaseURL != "postgres://localhost/tasknest" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unparseable duration", "REMIND_TICK_INTERVAL", "soon"},
		{"tick too short", "REMIND_TICK_INTERVAL", "100ms"},
		{"window below half tick", "REMIND_WINDOW", "1s"},
		{"hour out of range", "REMIND_DEFAULT_HOUR", "24"},
		{"hour not a number", "REMIND_DEFAULT_HOUR", "six"},
		{"bool garbage", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%s", tc.key, tc.value)
			}
		})
	}
}
