package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"famcal/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Feed URLs carry private tokens, so they may instead come
// from the environment (see ApplyEnv).

const (
	EnvPrefix   = "FAMCAL_"
	EnvProxyURL = EnvPrefix + "CORS_PROXY_URL"
)

// PersonConfig describes one calendar owner and their ICS feed.
type PersonConfig struct {
	// ID is an internal identifier used for de-dup, filters and logging.
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Emoji string `yaml:"emoji" json:"emoji"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"-"`
	// WorkCalendar hides this person's solo events inside the suppress window.
	WorkCalendar bool `yaml:"work_calendar,omitempty" json:"work_calendar,omitempty"`

	TravelTimezone string `yaml:"travel_timezone,omitempty" json:"travel_timezone,omitempty"`
	TravelLocation string `yaml:"travel_location,omitempty" json:"travel_location,omitempty"`
}

// WindowConfig is the expansion window around today, in days.
type WindowConfig struct {
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
	AheadDays    int `yaml:"ahead_days" json:"ahead_days"`
}

// TrimConfig bounds oversized feeds before expansion.
type TrimConfig struct {
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`
	MaxOneOff    int `yaml:"max_one_off" json:"max_one_off"`
}

type ExpandConfig struct {
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

type FetchConfig struct {
	Attempts       int `yaml:"attempts" json:"attempts"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	BackoffMillis  int `yaml:"backoff_ms" json:"backoff_ms"`
	// Direct fetches feeds without a proxy when ProxyURL is empty.
	Direct bool `yaml:"direct" json:"direct"`
}

// SuppressConfig is the window in which solo work-calendar events are hidden.
type SuppressConfig struct {
	// Weekdays are lower-case English names, e.g. "monday".
	Weekdays      []string `yaml:"weekdays" json:"weekdays"`
	StartHour     int      `yaml:"start_hour" json:"start_hour"`
	EndHour       int      `yaml:"end_hour" json:"end_hour"`
	IncludeAllDay bool     `yaml:"include_all_day" json:"include_all_day"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA home timezone (e.g. "Europe/Berlin") used for
	// "today" and day bucketing.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ProxyURL is the CORS-capable proxy feeds are fetched through.
	ProxyURL string `yaml:"proxy_url" json:"-"`

	// SharedPersonID names the pseudo-person for family-wide events.
	SharedPersonID string `yaml:"shared_person" json:"shared_person"`

	Persons []PersonConfig `yaml:"persons" json:"persons"`

	Window    WindowConfig   `yaml:"window" json:"window"`
	Trim      TrimConfig     `yaml:"trim" json:"trim"`
	Expand    ExpandConfig   `yaml:"expand" json:"expand"`
	CacheSize int            `yaml:"cache_size" json:"cache_size"`
	Fetch     FetchConfig    `yaml:"fetch" json:"fetch"`
	Suppress  SuppressConfig `yaml:"suppress" json:"suppress"`

	// NoSchoolPattern is a regular expression matched against all-day
	// summaries. Empty uses the built-in English/German pattern.
	NoSchoolPattern string `yaml:"no_school_pattern,omitempty" json:"no_school_pattern,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "Europe/Berlin",
		RefreshCron:    "*/15 * * * *",
		SharedPersonID: "family",
		Persons: []PersonConfig{
			{ID: "papa", Name: "Papa", Emoji: "\U0001F468", WorkCalendar: true},
			{ID: "daddy", Name: "Daddy", Emoji: "\U0001F468\u200d\U0001F9B0"},
			{ID: "family", Name: "Family", Emoji: "\U0001F468\u200d\U0001F468\u200d\U0001F467\u200d\U0001F466"},
		},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.Persons == nil {
		c.Persons = []PersonConfig{}
	}
	if c.Window.LookbackDays <= 0 {
		c.Window.LookbackDays = 14
	}
	if c.Window.AheadDays <= 0 {
		c.Window.AheadDays = 7
	}
	if c.Trim.LookbackDays <= 0 {
		c.Trim.LookbackDays = 90
	}
	if c.Trim.MaxOneOff <= 0 {
		c.Trim.MaxOneOff = 1200
	}
	if c.Expand.MaxIterations <= 0 {
		c.Expand.MaxIterations = 300
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 24
	}
	if c.Fetch.Attempts <= 0 {
		c.Fetch.Attempts = 3
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 15
	}
	if c.Fetch.BackoffMillis <= 0 {
		c.Fetch.BackoffMillis = 500
	}
	// An all-zero suppress block means "not configured": weekday 9-17.
	if len(c.Suppress.Weekdays) == 0 && c.Suppress.StartHour == 0 && c.Suppress.EndHour == 0 {
		c.Suppress = SuppressConfig{
			Weekdays:  []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
			StartHour: 9,
			EndHour:   17,
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
}

// Validate reports configuration that cannot be run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	seen := make(map[string]bool, len(c.Persons))
	for i, p := range c.Persons {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("persons[%d]: id is empty", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("persons[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if p.TravelTimezone != "" {
			if _, err := time.LoadLocation(p.TravelTimezone); err != nil {
				errs = append(errs, fmt.Errorf("persons[%d]: travel_timezone %q: %w", i, p.TravelTimezone, err))
			}
		}
	}
	if _, err := c.SuppressWeekdays(); err != nil {
		errs = append(errs, err)
	}
	if c.Suppress.StartHour < 0 || c.Suppress.EndHour > 24 || c.Suppress.StartHour > c.Suppress.EndHour {
		errs = append(errs, fmt.Errorf("suppress: invalid hours %d-%d", c.Suppress.StartHour, c.Suppress.EndHour))
	}
	return errors.Join(errs...)
}

// Location resolves the home timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// SuppressWeekdays parses Suppress.Weekdays.
func (c *Config) SuppressWeekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.Suppress.Weekdays))
	for _, name := range c.Suppress.Weekdays {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("suppress: unknown weekday %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// People converts the configured persons into model values.
func (c *Config) People() []model.Person {
	out := make([]model.Person, 0, len(c.Persons))
	for _, p := range c.Persons {
		out = append(out, model.Person{
			ID:             p.ID,
			Name:           p.Name,
			Emoji:          p.Emoji,
			URL:            p.URL,
			WorkCalendar:   p.WorkCalendar,
			TravelTimezone: p.TravelTimezone,
			TravelLocation: p.TravelLocation,
		})
	}
	return out
}

// WorkPersonIDs lists persons flagged as work calendars.
func (c *Config) WorkPersonIDs() []string {
	var ids []string
	for _, p := range c.Persons {
		if p.WorkCalendar {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// ApplyEnv loads an optional .env file and overrides secrets from the
// environment: FAMCAL_CORS_PROXY_URL and FAMCAL_CAL_<ID> per person (ID
// upper-cased, '-' replaced by '_'). A missing .env file is not an error.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if v := os.Getenv(EnvProxyURL); v != "" {
		c.ProxyURL = v
	}
	for i := range c.Persons {
		if v := os.Getenv(PersonEnvKey(c.Persons[i].ID)); v != "" {
			c.Persons[i].URL = v
		}
	}
	return nil
}

// PersonEnvKey is the environment variable holding a person's feed URL.
func PersonEnvKey(id string) string {
	return EnvPrefix + "CAL_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".famcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
