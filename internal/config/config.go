package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "Asia/Kolkata"
	defaultProductID   = "schedmaker"
	defaultOutputName  = "schedule.ics"
	defaultTermSource  = "sem-data/ScheduleSem2_2020-21.jsonc"
	defaultSlotsSource = "sem-data/SlottingPattern.jsonc"
	defaultCacheDir    = "./var/source-cache"
	defaultLogLevel    = "info"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the form and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the form and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the single IANA zone every date and time is interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// ProductID is written as PRODID into generated calendars.
	ProductID string `yaml:"product_id" json:"product_id"`

	// OutputName is the download file name offered to the browser.
	OutputName string `yaml:"output_name" json:"output_name"`

	// TermSource and SlotsSource locate the term calendar and slot pattern
	// documents. Each is either a local path or an http(s) URL.
	TermSource  string `yaml:"term_source" json:"term_source"`
	SlotsSource string `yaml:"slots_source" json:"slots_source"`

	// CacheDir stores fetched documents and their ETag metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Reload is a cron expression (e.g. "0 */6 * * *") for re-reading both
	// documents. Empty disables periodic reload.
	Reload string `yaml:"reload" json:"reload"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		ProductID:   defaultProductID,
		OutputName:  defaultOutputName,
		TermSource:  defaultTermSource,
		SlotsSource: defaultSlotsSource,
		CacheDir:    defaultCacheDir,
		Reload:      "",
		LogLevel:    defaultLogLevel,
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.ProductID == "" {
		c.ProductID = defaultProductID
	}
	if c.OutputName == "" {
		c.OutputName = defaultOutputName
	}
	if !strings.HasSuffix(strings.ToLower(c.OutputName), ".ics") {
		c.OutputName += ".ics"
	}
	if c.TermSource == "" {
		c.TermSource = defaultTermSource
	}
	if c.SlotsSource == "" {
		c.SlotsSource = defaultSlotsSource
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	c.Reload = strings.TrimSpace(c.Reload)
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		// Half-configured credentials disable auth rather than lock everyone out.
		c.BasicAuth = nil
	}
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
		return nil, err
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

	tmp, err := os.CreateTemp(dir, ".schedmaker-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
