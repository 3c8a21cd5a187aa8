// Package config loads the notifier configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"termini-notifier/params"
)

// Defaults for the public e-uprava calendar.
const (
	DefaultFetchURL  = "https://e-uprava.gov.si/si/javne-evidence/prosti-termini-zemljevid/content/singleton.html"
	DefaultClientURL = "https://e-uprava.gov.si/si/javne-evidence/prosti-termini-zemljevid.html"
	// DefaultParams selects driving exams (category B) at one exam centre.
	DefaultParams = "eyJwYWdlIjpbMF0sImZpbHRlcnMiOnsidHlwZSI6WyIxIl0sImNhdCI6WyI2Il0sIml6cGl0bmlDZW50ZXIiOlsiMTgiXSwibG9rYWNpamEiOlsiMjIxIl0sImNhbGVuZGFyX2RhdGUiOlsiMjAyNS0xMC0yOCJdLCJvZmZzZXQiOlsiMCJdLCJzZW50aW5lbF90eXBlIjpbIm9rIl0sInNlbnRpbmVsX3N0YXR1cyI6WyJvayJdLCJpc19hamF4IjpbIjEiXX0sIm9mZnNldFBhZ2UiOm51bGx9"

	DefaultTimezone       = "Europe/Ljubljana"
	DefaultCheckCron      = "*/15 * * * *"
	DefaultInvalidateCron = "0 * * * *"
	DefaultListen         = ":8080"
	DefaultSQLitePath     = "termini.db"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverGCS      = "gcs"
)

// SourceConfig describes the calendar endpoint and the search to run.
type SourceConfig struct {
	FetchURL      string        `yaml:"fetch_url"`
	ClientURL     string        `yaml:"client_url"`
	Params        string        `yaml:"params"` // base64 JSON filter blob
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
}

// PollConfig controls window walking and scheduling.
type PollConfig struct {
	MaxWindows     int    `yaml:"max_windows"`
	MinEvents      int    `yaml:"min_events"`
	Timezone       string `yaml:"timezone"`
	CheckCron      string `yaml:"check_cron"`
	InvalidateCron string `yaml:"invalidate_cron"`
}

// TelegramConfig is the default notification channel.
type TelegramConfig struct {
	Token   string   `yaml:"token"`
	ChatIDs []string `yaml:"chat_ids"`
	APIURL  string   `yaml:"api_url"`
}

// GmailConfig is an optional second channel.
type GmailConfig struct {
	CredentialsJSON string   `yaml:"credentials_json"`
	Recipients      []string `yaml:"recipients"`
}

// StorageConfig selects the seen-set backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"` // file path for sqlite, connection string for postgres
	Bucket string `yaml:"bucket"`
	Object string `yaml:"object"`
}

// RedisConfig enables the shared cycle lock when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LockConfig bounds how long a crashed cycle can hold the lock.
type LockConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Config is the top-level application configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Poll     PollConfig     `yaml:"poll"`
	Telegram TelegramConfig `yaml:"telegram"`
	Gmail    GmailConfig    `yaml:"gmail"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Lock     LockConfig     `yaml:"lock"`
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`

	// MockNotify replaces every channel with a logging provider.
	MockNotify bool `yaml:"mock_notify"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Source.FetchURL == "" {
		c.Source.FetchURL = DefaultFetchURL
	}
	if c.Source.ClientURL == "" {
		c.Source.ClientURL = DefaultClientURL
	}
	if c.Source.Params == "" {
		c.Source.Params = DefaultParams
	}
	if c.Source.HTTPTimeout <= 0 {
		c.Source.HTTPTimeout = 20 * time.Second
	}
	if c.Source.RetryAttempts <= 0 {
		c.Source.RetryAttempts = 3
	}

	if c.Poll.MaxWindows == 0 {
		c.Poll.MaxWindows = 20
	}
	if c.Poll.MinEvents == 0 {
		c.Poll.MinEvents = 10
	}
	if c.Poll.Timezone == "" {
		c.Poll.Timezone = DefaultTimezone
	}
	if c.Poll.CheckCron == "" {
		c.Poll.CheckCron = DefaultCheckCron
	}
	if c.Poll.InvalidateCron == "" {
		c.Poll.InvalidateCron = DefaultInvalidateCron
	}

	if c.Telegram.ChatIDs == nil {
		c.Telegram.ChatIDs = []string{"943993004", "7154559188"}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.DSN == "" {
		c.Storage.DSN = DefaultSQLitePath
	}

	if c.Lock.TTL <= 0 {
		c.Lock.TTL = 10 * time.Minute
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads the YAML file at path if it exists, applies environment
// overrides (including a .env file in the working directory) and fills
// defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString(&c.Telegram.Token, "TELEGRAM_API_TOKEN")
	if v := getenv("TELEGRAM_CHAT_IDS"); v != "" {
		c.Telegram.ChatIDs = splitList(v)
	}
	setString(&c.Gmail.CredentialsJSON, "GOOGLE_CREDENTIALS_JSON")
	if v := getenv("EMAIL_RECIPIENTS"); v != "" {
		c.Gmail.Recipients = splitList(v)
	}

	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		c.Storage.Driver = DriverPostgres
		c.Storage.DSN = v
	}
	if v := strings.TrimSpace(getenv("STORAGE_BUCKET")); v != "" {
		c.Storage.Driver = DriverGCS
		c.Storage.Bucket = v
	}
	if v := strings.TrimSpace(getenv("SQLITE_PATH")); v != "" {
		c.Storage.Driver = DriverSQLite
		c.Storage.DSN = v
	}

	setString(&c.Redis.URL, "REDIS_URL")
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		c.Listen = ":" + v
	}
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Source.Params, "SOURCE_PARAMS")
	setString(&c.Poll.Timezone, "TIMEZONE")

	if err := setInt(&c.Poll.MaxWindows, "MAX_WINDOWS"); err != nil {
		return err
	}
	if err := setInt(&c.Poll.MinEvents, "MIN_EVENTS"); err != nil {
		return err
	}

	if v := getenv("MOCK_NOTIFY"); v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse MOCK_NOTIFY: %w", err)
		}
		c.MockNotify = mock
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := time.LoadLocation(c.Poll.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("poll.timezone: %w", err))
	}
	if _, err := cron.ParseStandard(c.Poll.CheckCron); err != nil {
		errs = append(errs, fmt.Errorf("poll.check_cron: %w", err))
	}
	if _, err := cron.ParseStandard(c.Poll.InvalidateCron); err != nil {
		errs = append(errs, fmt.Errorf("poll.invalidate_cron: %w", err))
	}
	if c.Poll.MaxWindows < 1 {
		errs = append(errs, fmt.Errorf("poll.max_windows must be at least 1, got %d", c.Poll.MaxWindows))
	}
	if c.Poll.MinEvents < 1 {
		errs = append(errs, fmt.Errorf("poll.min_events must be at least 1, got %d", c.Poll.MinEvents))
	}
	if _, err := params.Decode(c.Source.Params); err != nil {
		errs = append(errs, fmt.Errorf("source.params: %w", err))
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver))
		}
	case DriverGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if !c.MockNotify {
		telegram := c.Telegram.Token != "" && len(c.Telegram.ChatIDs) > 0
		gmail := c.Gmail.CredentialsJSON != "" && len(c.Gmail.Recipients) > 0
		if !telegram && !gmail {
			errs = append(errs, errors.New("no notification channel: set telegram.token or gmail.credentials_json with recipients, or MOCK_NOTIFY=1"))
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
