package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"apptcal/internal/model"
	"apptcal/internal/recurrence"
)

// FeedConfig describes a single ICS subscription merged into the calendar.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used as the entries' source and in logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (f FeedConfig) SourceID() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.Name != "":
		return f.Name
	default:
		return f.URL
	}
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

	// Timezone is the IANA zone appointments are entered and shown in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday". It orders days inside a
	// weekly repeat block.
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DefaultDurationHours applies to appointments submitted without a
	// usable duration.
	DefaultDurationHours float64 `yaml:"default_duration_hours" json:"default_duration_hours"`

	// MaxOccurrences rejects repeat rules that would expand further.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// HorizonDays is how far ahead feeds are expanded and the default
	// /api/events window extends.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// re-fetching feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Timezones is the advisory list offered by the timezone selector.
	Timezones []string `yaml:"timezones" json:"timezones"`

	// Feeds is the list of subscribed ICS sources.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

var defaultTimezones = []string{
	"Pacific/Auckland",
	"Australia/Sydney",
	"Asia/Tokyo",
	"Europe/London",
	"America/New_York",
	"America/Los_Angeles",
	"UTC",
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:8080",
		Timezone:             "Pacific/Auckland",
		WeekStart:            "monday",
		DefaultDurationHours: 1,
		MaxOccurrences:       recurrence.DefaultMaxOccurrences,
		HorizonDays:          90,
		RefreshCron:          "*/15 * * * *",
		Timezones:            append([]string(nil), defaultTimezones...),
		Feeds:                []FeedConfig{},
		LogLevel:             "info",
		BasicAuth:            nil,
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	// Unknown week starts fall back to monday.
	if _, err := recurrence.ParseWeekStart(c.WeekStart); err != nil || c.WeekStart == "" {
		c.WeekStart = d.WeekStart
	}
	if c.DefaultDurationHours <= 0 {
		c.DefaultDurationHours = d.DefaultDurationHours
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = d.MaxOccurrences
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if len(c.Timezones) == 0 {
		c.Timezones = d.Timezones
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.URL == "" {
			return fmt.Errorf("config: feeds[%d] has no url", i)
		}
		id := f.SourceID()
		if id == model.SourceManual {
			return fmt.Errorf("config: feeds[%d]: id %q is reserved for form-created appointments", i, id)
		}
		if seen[id] {
			return fmt.Errorf("config: duplicate feed id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WeekStartValue parses WeekStart; Normalize guarantees it is valid.
func (c *Config) WeekStartValue() recurrence.WeekStart {
	ws, _ := recurrence.ParseWeekStart(c.WeekStart)
	return ws
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 permissions and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".apptcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
