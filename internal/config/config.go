package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone the generated events are anchored in.
	// The target campus has no daylight saving, so when the zone database
	// is unavailable a fixed +08:00 offset is an exact substitute.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// TimetableHost is the hostname timetable URLs must resolve to.
	// The port is deliberately not pinned: the timetabling site moves
	// ports between academic years (8006, 8016, ...).
	TimetableHost string `yaml:"timetable_host" json:"timetable_host"`

	// RequestTimeoutSeconds bounds a single timetable page fetch.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`

	// CacheDir is where fetched timetable pages and their HTTP metadata
	// are cached on disk.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CacheMaxAgeDays controls when the janitor removes stale cache
	// entries.
	CacheMaxAgeDays int `yaml:"cache_max_age_days" json:"cache_max_age_days"`

	// ProdID is the iCalendar PRODID emitted in generated files.
	ProdID string `yaml:"prodid" json:"prodid"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		Timezone:              "Asia/Kuala_Lumpur",
		LogLevel:              "info",
		TimetableHost:         "timetablingunmc.nottingham.ac.uk",
		RequestTimeoutSeconds: 10,
		CacheDir:              "./var/page-cache",
		CacheMaxAgeDays:       14,
		ProdID:                "-//UNMC Timetable//EN",
		BasicAuth:             nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.TimetableHost == "" {
		c.TimetableHost = d.TimetableHost
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = d.RequestTimeoutSeconds
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.CacheMaxAgeDays <= 0 {
		c.CacheMaxAgeDays = d.CacheMaxAgeDays
	}
	if c.ProdID == "" {
		c.ProdID = d.ProdID
	}
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone. If the zone database cannot
// supply it, a fixed +08:00 zone is returned; Malaysia has no DST so the
// two are equivalent for event times.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("+08", 8*60*60)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize defaults.
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
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// The parent directory is created 0700, the YAML is written atomically via a
// temp file + rename, and the final file ends up with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".unmcal-config-*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
