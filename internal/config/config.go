package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task bot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string

	RemindTickInterval time.Duration
	RemindWindow       time.Duration
	RemindDefaultHour  int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "tasknest"),
		AllowAnyOrigin:     false,
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ShutdownTimeout:    15 * time.Second,
		RemindTickInterval: time.Minute,
		RemindWindow:       time.Minute,
		RemindDefaultHour:  18,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RemindTickInterval, err = durationFromEnv("REMIND_TICK_INTERVAL", cfg.RemindTickInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RemindWindow, err = durationFromEnv("REMIND_WINDOW", cfg.RemindWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.RemindDefaultHour, err = intFromEnv("REMIND_DEFAULT_HOUR", cfg.RemindDefaultHour)
	if err != nil {
		return Config{}, err
	}

	if cfg.RemindTickInterval < time.Second {
		return Config{}, fmt.Errorf("REMIND_TICK_INTERVAL must be at least 1s")
	}
	if cfg.RemindWindow < cfg.RemindTickInterval/2 {
		return Config{}, fmt.Errorf("REMIND_WINDOW must be at least half of REMIND_TICK_INTERVAL")
	}
	if cfg.RemindDefaultHour < 0 || cfg.RemindDefaultHour > 23 {
		return Config{}, fmt.Errorf("REMIND_DEFAULT_HOUR must be between 0 and 23")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
