// Package config loads and saves the eventscope configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone names resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// RefreshOff disables scheduled session renewal in `serve`.
const RefreshOff = "off"

const (
	defaultAPIBaseURL    = "http://localhost:5000"
	defaultFetchTimeout  = "30s"
	defaultStateDir      = "state"
	defaultListen        = "127.0.0.1:8080"
	defaultRefresh       = "0 * * * *"
	defaultTimezone      = "Australia/Sydney"
	defaultLogLevel      = "info"
	defaultFeaturedCount = 4
	defaultAgendaDays    = 14
)

// StorageConfig selects where the cache and preferences live.
type StorageConfig struct {
	// Backend is one of "file" (default), "memory", "postgres", "s3".
	Backend string `yaml:"backend" toml:"backend" json:"backend"`

	DatabaseURL string `yaml:"database_url,omitempty" toml:"database_url,omitempty" json:"database_url,omitempty"`

	S3Bucket   string `yaml:"s3_bucket,omitempty" toml:"s3_bucket,omitempty" json:"s3_bucket,omitempty"`
	S3Region   string `yaml:"s3_region,omitempty" toml:"s3_region,omitempty" json:"s3_region,omitempty"`
	S3Endpoint string `yaml:"s3_endpoint,omitempty" toml:"s3_endpoint,omitempty" json:"s3_endpoint,omitempty"`
	S3Prefix   string `yaml:"s3_prefix,omitempty" toml:"s3_prefix,omitempty" json:"s3_prefix,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// APIBaseURL is the event API origin; the catalog is fetched from
	// APIBaseURL + "/api/events/all".
	APIBaseURL string `yaml:"api_base_url" toml:"api_base_url" json:"api_base_url"`

	// FetchTimeout bounds the single catalog request, e.g. "30s".
	FetchTimeout string `yaml:"fetch_timeout" toml:"fetch_timeout" json:"fetch_timeout"`

	// StateDir holds the file storage backend. Relative paths are resolved
	// against the config file's directory.
	StateDir string `yaml:"state_dir" toml:"state_dir" json:"state_dir"`

	Storage StorageConfig `yaml:"storage" toml:"storage" json:"storage"`

	// Listen is the HTTP listen address for `serve`.
	Listen string `yaml:"listen" toml:"listen" json:"listen"`

	// Refresh is a cron schedule (e.g. "0 * * * *") on which `serve`
	// starts a fresh catalog session. "off" disables renewal.
	Refresh string `yaml:"refresh" toml:"refresh" json:"refresh"`

	// Timezone is the IANA zone used for dates in the agenda and ICS export.
	Timezone string `yaml:"timezone" toml:"timezone" json:"timezone"`

	// NATSURL, if set, enables publishing of catalog and preference events.
	NATSURL string `yaml:"nats_url,omitempty" toml:"nats_url,omitempty" json:"nats_url,omitempty"`

	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// FeaturedCount is how many categories the featured view samples.
	FeaturedCount int `yaml:"featured_count" toml:"featured_count" json:"featured_count"`

	// AgendaDays is the default agenda horizon.
	AgendaDays int `yaml:"agenda_days" toml:"agenda_days" json:"agenda_days"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:    defaultAPIBaseURL,
		FetchTimeout:  defaultFetchTimeout,
		StateDir:      defaultStateDir,
		Storage:       StorageConfig{Backend: BackendFile, S3Prefix: "eventscope/"},
		Listen:        defaultListen,
		Refresh:       defaultRefresh,
		Timezone:      defaultTimezone,
		LogLevel:      defaultLogLevel,
		FeaturedCount: defaultFeaturedCount,
		AgendaDays:    defaultAgendaDays,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.FetchTimeout == "" {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Refresh == "" {
		c.Refresh = defaultRefresh
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.FeaturedCount <= 0 {
		c.FeaturedCount = defaultFeaturedCount
	}
	if c.AgendaDays <= 0 {
		c.AgendaDays = defaultAgendaDays
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings that cannot work, after Normalize.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Timeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for the postgres backend"))
		}
	case BackendS3:
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("storage.s3_bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// Timeout parses FetchTimeout.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid fetch_timeout %q", c.FetchTimeout)
	}
	return d, nil
}

// Location loads Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RefreshEnabled reports whether `serve` should renew sessions on a schedule.
func (c *Config) RefreshEnabled() bool {
	return !strings.EqualFold(c.Refresh, RefreshOff)
}

// ResolveStateDir returns StateDir, made absolute relative to the directory
// of configPath when it is relative.
func (c *Config) ResolveStateDir(configPath string) string {
	if filepath.IsAbs(c.StateDir) || configPath == "" {
		return c.StateDir
	}
	return filepath.Join(filepath.Dir(configPath), c.StateDir)
}

// ApplyEnv overrides file values with EVENTSCOPE_* environment variables.
func (c *Config) ApplyEnv() {
	c.APIBaseURL = envOrDefault("EVENTSCOPE_API_BASE_URL", c.APIBaseURL)
	c.FetchTimeout = envOrDefault("EVENTSCOPE_FETCH_TIMEOUT", c.FetchTimeout)
	c.StateDir = envOrDefault("EVENTSCOPE_STATE_DIR", c.StateDir)
	c.Storage.Backend = envOrDefault("EVENTSCOPE_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DatabaseURL = envOrDefault("EVENTSCOPE_DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.S3Bucket = envOrDefault("EVENTSCOPE_S3_BUCKET", c.Storage.S3Bucket)
	c.Storage.S3Region = envOrDefault("EVENTSCOPE_S3_REGION", c.Storage.S3Region)
	c.Storage.S3Endpoint = envOrDefault("EVENTSCOPE_S3_ENDPOINT", c.Storage.S3Endpoint)
	c.Storage.S3Prefix = envOrDefault("EVENTSCOPE_S3_PREFIX", c.Storage.S3Prefix)
	c.Listen = envOrDefault("EVENTSCOPE_LISTEN", c.Listen)
	c.Refresh = envOrDefault("EVENTSCOPE_REFRESH", c.Refresh)
	c.Timezone = envOrDefault("EVENTSCOPE_TIMEZONE", c.Timezone)
	c.NATSURL = envOrDefault("EVENTSCOPE_NATS_URL", c.NATSURL)
	c.LogLevel = envOrDefault("EVENTSCOPE_LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("EVENTSCOPE_FEATURED_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FeaturedCount = n
		}
	}
	if u, p := os.Getenv("EVENTSCOPE_BASIC_AUTH_USER"), os.Getenv("EVENTSCOPE_BASIC_AUTH_PASSWORD"); u != "" || p != "" {
		c.BasicAuth = &BasicAuthConfig{Username: u, Password: p}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadDotEnv loads a .env file from the config directory and then from the
// working directory. Variables already set in the environment win.
func LoadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load loads configuration from the given path. Files ending in ".toml"
// are decoded as TOML, everything else as YAML.
//
// Behavior:
//   - .env files are loaded first (see LoadDotEnv)
//   - If the file does not exist, a default config is written with 0600
//     perms and returned
//   - EVENTSCOPE_* variables override file values
//   - the result is normalized and validated
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	LoadDotEnv(path)

	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML or TOML depending on the extension.
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

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, ".eventscope-config-*.tmp")
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

// DefaultPath returns the per-user config location, falling back to the
// working directory when no user config dir is known.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "eventscope", "config.yaml")
	}
	return filepath.Join(".", "eventscope.yaml")
}
