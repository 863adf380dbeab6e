package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the bot and the reminder engine.
type Config struct {
	TelegramToken string
	DatabaseURL   string
	Location      *time.Location

	TickInterval      time.Duration
	ReminderTolerance time.Duration
	DigestCatchUp     time.Duration
	SendTimeout       time.Duration
	StoreTimeout      time.Duration

	DefaultDigestHour   int
	DefaultDigestMinute int

	HTTPAddr  string
	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then environment variables with sane defaults.
func Load() (Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	cfg := Config{
		TelegramToken: env("TELEGRAM_TOKEN"),
		DatabaseURL:   env("DATABASE_URL"),
		HTTPAddr:      env("HTTP_ADDR"),
		LogLevel:      strings.ToLower(env("LOG_LEVEL")),
		LogFormat:     strings.ToLower(env("LOG_FORMAT")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "planner.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	loc, err := parseLocation(env("TIMEZONE"))
	if err != nil {
		return cfg, err
	}
	cfg.Location = loc

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
		zeroOK   bool
	}{
		{"TICK_INTERVAL", &cfg.TickInterval, time.Minute, false},
		{"REMINDER_TOLERANCE", &cfg.ReminderTolerance, 5 * time.Minute, false},
		{"DIGEST_CATCHUP", &cfg.DigestCatchUp, 0, true},
		{"SEND_TIMEOUT", &cfg.SendTimeout, 10 * time.Second, false},
		{"STORE_TIMEOUT", &cfg.StoreTimeout, 5 * time.Second, false},
	}
	for _, d := range durations {
		value, err := parseDuration(env(d.key), d.fallback, d.zeroOK)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = value
	}

	defaultTime := env("DEFAULT_DIGEST_TIME")
	if defaultTime == "" {
		defaultTime = "09:00"
	}
	cfg.DefaultDigestHour, cfg.DefaultDigestMinute, err = ParseClock(defaultTime)
	if err != nil {
		return cfg, fmt.Errorf("DEFAULT_DIGEST_TIME: %w", err)
	}

	// Thresholds are only guaranteed to be hit when a tick lands inside every window.
	if cfg.TickInterval > 2*cfg.ReminderTolerance {
		return cfg, fmt.Errorf("TICK_INTERVAL %s must not exceed twice REMINDER_TOLERANCE %s", cfg.TickInterval, cfg.ReminderTolerance)
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	return cfg, nil
}

// ParseClock parses an HH:MM time of day.
func ParseClock(raw string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour, minute, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseDuration(raw string, fallback time.Duration, zeroOK bool) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if value < 0 || (value == 0 && !zeroOK) {
		return 0, errors.New("must be positive")
	}
	return value, nil
}

func parseLocation(raw string) (*time.Location, error) {
	if raw == "" || strings.EqualFold(raw, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}
