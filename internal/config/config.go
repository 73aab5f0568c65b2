package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sabs90/halaqas/internal/fsutil"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment overrides (HALAQAS_*) are applied on top by
// ApplyEnv.

const (
	PrayerSourceAlAdhan   = "aladhan"
	PrayerSourceTimetable = "timetable"
)

// PrayerConfig selects and configures the prayer-time source.
type PrayerConfig struct {
	// Source is "aladhan" (HTTP API) or "timetable" (static YAML file).
	Source string `yaml:"source" json:"source"`

	// Latitude / Longitude of the deployment's city.
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`

	// Method is the Al Adhan calculation method id (3 = Muslim World League).
	Method int `yaml:"method" json:"method"`
	// School is the Asr juristic school (0 = standard, 1 = Hanafi).
	School int `yaml:"school" json:"school"`

	BaseURL        string `yaml:"base_url" json:"base_url"`
	CacheDir       string `yaml:"cache_dir" json:"cache_dir"`
	TimetablePath  string `yaml:"timetable_path" json:"timetable_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for feeds and the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the single IANA zone all events are resolved in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// SiteURL is the public site; VEVENT URLs point at <site_url>/events/<id>.
	SiteURL string `yaml:"site_url" json:"site_url"`
	// UIDDomain is appended to event IDs to form VEVENT UIDs.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`
	ProdID    string `yaml:"prod_id" json:"prod_id"`
	// Footer is appended to every event DESCRIPTION.
	Footer string `yaml:"footer" json:"footer"`
	// CalendarSuffix is appended to a mosque's name to form X-WR-CALNAME.
	CalendarSuffix string `yaml:"calendar_suffix" json:"calendar_suffix"`

	// CatalogPath is the YAML file listing mosques and events.
	CatalogPath string `yaml:"catalog_path" json:"catalog_path"`

	// OutputDir receives one <mosque-id>.ics per mosque on every refresh.
	// Empty disables the exporter.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for reloading the catalog and re-exporting feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// FeedCacheSeconds is how long a rendered feed is served from memory.
	FeedCacheSeconds int `yaml:"feed_cache_seconds" json:"feed_cache_seconds"`

	Prayer PrayerConfig `yaml:"prayer" json:"prayer"`

	// BasicAuth guards /metrics and /api. Nil or empty disables it.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// DefaultConfig returns an in-memory default configuration for Sydney.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		Timezone:         "Australia/Sydney",
		LogLevel:         "info",
		SiteURL:          "https://halaqas.com",
		UIDDomain:        "halaqas.com",
		ProdID:           "-//Halaqas//EN",
		Footer:           "Via halaqas.com — Australian Islamic events directory",
		CalendarSuffix:   " — Halaqas",
		CatalogPath:      "catalog.yaml",
		RefreshCron:      "*/15 * * * *",
		FeedCacheSeconds: 300,
		Prayer: PrayerConfig{
			Source:         PrayerSourceAlAdhan,
			Latitude:       -33.8688,
			Longitude:      151.2093,
			Method:         3,
			School:         0,
			BaseURL:        "https://api.aladhan.com",
			CacheDir:       "cache/prayer",
			TimeoutSeconds: 15,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = def.LogLevel
	}
	if c.UIDDomain == "" {
		c.UIDDomain = def.UIDDomain
	}
	if c.ProdID == "" {
		c.ProdID = def.ProdID
	}
	if c.CatalogPath == "" {
		c.CatalogPath = def.CatalogPath
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.FeedCacheSeconds < 0 {
		c.FeedCacheSeconds = 0
	}

	p := &c.Prayer
	switch p.Source {
	case PrayerSourceAlAdhan, PrayerSourceTimetable:
	default:
		p.Source = def.Prayer.Source
	}
	if p.Method <= 0 {
		p.Method = def.Prayer.Method
	}
	if p.School != 0 && p.School != 1 {
		p.School = def.Prayer.School
	}
	if p.BaseURL == "" {
		p.BaseURL = def.Prayer.BaseURL
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = def.Prayer.TimeoutSeconds
	}
	if p.Latitude == 0 && p.Longitude == 0 {
		p.Latitude, p.Longitude = def.Prayer.Latitude, def.Prayer.Longitude
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if c.Prayer.Source == PrayerSourceTimetable && c.Prayer.TimetablePath == "" {
		return errors.New("prayer.timetable_path is required for the timetable source")
	}
	if c.Prayer.Latitude < -90 || c.Prayer.Latitude > 90 || c.Prayer.Longitude < -180 || c.Prayer.Longitude > 180 {
		return fmt.Errorf("prayer coordinates out of range: %v, %v", c.Prayer.Latitude, c.Prayer.Longitude)
	}
	return nil
}

// Location loads the configured zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// FeedCacheTTL is FeedCacheSeconds as a duration.
func (c *Config) FeedCacheTTL() time.Duration {
	return time.Duration(c.FeedCacheSeconds) * time.Second
}

// ApplyEnv overrides fields from HALAQAS_* variables. getenv is usually
// os.Getenv; malformed numbers are reported and leave the field unchanged.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("HALAQAS_LISTEN", &c.Listen)
	str("HALAQAS_TIMEZONE", &c.Timezone)
	str("HALAQAS_LOG_LEVEL", &c.LogLevel)
	str("HALAQAS_SITE_URL", &c.SiteURL)
	str("HALAQAS_UID_DOMAIN", &c.UIDDomain)
	str("HALAQAS_CATALOG_PATH", &c.CatalogPath)
	str("HALAQAS_OUTPUT_DIR", &c.OutputDir)
	str("HALAQAS_REFRESH", &c.RefreshCron)
	num("HALAQAS_FEED_CACHE_SECONDS", &c.FeedCacheSeconds)

	str("HALAQAS_PRAYER_SOURCE", &c.Prayer.Source)
	float("HALAQAS_PRAYER_LATITUDE", &c.Prayer.Latitude)
	float("HALAQAS_PRAYER_LONGITUDE", &c.Prayer.Longitude)
	num("HALAQAS_PRAYER_METHOD", &c.Prayer.Method)
	num("HALAQAS_PRAYER_SCHOOL", &c.Prayer.School)
	str("HALAQAS_PRAYER_BASE_URL", &c.Prayer.BaseURL)
	str("HALAQAS_PRAYER_CACHE_DIR", &c.Prayer.CacheDir)
	str("HALAQAS_PRAYER_TIMETABLE", &c.Prayer.TimetablePath)

	if u, p := getenv("HALAQAS_BASIC_AUTH_USER"), getenv("HALAQAS_BASIC_AUTH_PASSWORD"); u != "" || p != "" {
		c.BasicAuth = &BasicAuthConfig{Username: u, Password: p}
	}

	c.Normalize()
	return errors.Join(errs...)
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

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600, 0o700)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
