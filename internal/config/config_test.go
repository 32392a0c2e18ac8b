package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EVENTSCOPE_API_BASE_URL", "EVENTSCOPE_FETCH_TIMEOUT", "EVENTSCOPE_STATE_DIR",
		"EVENTSCOPE_STORAGE_BACKEND", "EVENTSCOPE_DATABASE_URL", "EVENTSCOPE_S3_BUCKET",
		"EVENTSCOPE_S3_REGION", "EVENTSCOPE_S3_ENDPOINT", "EVENTSCOPE_S3_PREFIX",
		"EVENTSCOPE_LISTEN", "EVENTSCOPE_REFRESH", "EVENTSCOPE_TIMEZONE", "EVENTSCOPE_NATS_URL",
		"EVENTSCOPE_LOG_LEVEL", "EVENTSCOPE_FEATURED_COUNT",
		"EVENTSCOPE_BASIC_AUTH_USER", "EVENTSCOPE_BASIC_AUTH_PASSWORD",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:5000" || cfg.Storage.Backend != BackendFile {
		t.Errorf("defaults = %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Timezone != cfg.Timezone || again.FetchTimeout != "30s" {
		t.Errorf("reloaded = %+v", again)
	}
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
api_base_url: "https://events.example.com/"
fetch_timeout: 5s
storage:
  backend: S3
  s3_bucket: my-bucket
  s3_region: ap-southeast-2
refresh: "off"
log_level: DEBUG
basic_auth:
  username: admin
  password: secret
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "https://events.example.com" {
		t.Errorf("APIBaseURL = %q, trailing slash should be trimmed", cfg.APIBaseURL)
	}
	if d, _ := cfg.Timeout(); d != 5*time.Second {
		t.Errorf("Timeout = %v", d)
	}
	if cfg.Storage.Backend != BackendS3 || cfg.Storage.S3Bucket != "my-bucket" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.RefreshEnabled() {
		t.Error("refresh should be disabled")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "admin" {
		t.Errorf("BasicAuth = %+v", cfg.BasicAuth)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
api_base_url = "http://api.internal:5000"
timezone = "UTC"
featured_count = 2

[storage]
backend = "postgres"
database_url = "postgres://localhost/eventscope"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "http://api.internal:5000" || cfg.Timezone != "UTC" || cfg.FeaturedCount != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.DatabaseURL == "" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
}

func TestSave_TOMLRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := DefaultConfig()
	cfg.NATSURL = "nats://127.0.0.1:4222"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `nats_url = "nats://127.0.0.1:4222"`) {
		t.Errorf("saved TOML:\n%s", data)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.NATSURL != cfg.NATSURL {
		t.Errorf("NATSURL = %q", got.NATSURL)
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("EVENTSCOPE_API_BASE_URL", "http://override:9000")
	t.Setenv("EVENTSCOPE_STORAGE_BACKEND", "memory")
	t.Setenv("EVENTSCOPE_FEATURED_COUNT", "7")
	t.Setenv("EVENTSCOPE_BASIC_AUTH_USER", "ops")
	t.Setenv("EVENTSCOPE_BASIC_AUTH_PASSWORD", "pw")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	cfg.Normalize()

	if cfg.APIBaseURL != "http://override:9000" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	if cfg.FeaturedCount != 7 {
		t.Errorf("FeaturedCount = %d", cfg.FeaturedCount)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Password != "pw" {
		t.Errorf("BasicAuth = %+v", cfg.BasicAuth)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EVENTSCOPE_LISTEN=0.0.0.0:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv sets the variable process-wide; restore it after the test.
	t.Cleanup(func() { os.Unsetenv("EVENTSCOPE_LISTEN") })
	os.Unsetenv("EVENTSCOPE_LISTEN")

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "0.0.0.0:9999" {
		t.Errorf("Listen = %q, want value from .env", cfg.Listen)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Defaults", func(*Config) {}, ""},
		{"BadTimeout", func(c *Config) { c.FetchTimeout = "soon" }, "fetch_timeout"},
		{"BadTimezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "timezone"},
		{"PostgresWithoutURL", func(c *Config) { c.Storage.Backend = BackendPostgres }, "database_url"},
		{"S3WithoutBucket", func(c *Config) { c.Storage.Backend = BackendS3 }, "s3_bucket"},
		{"UnknownBackend", func(c *Config) { c.Storage.Backend = "redis" }, "unknown storage.backend"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestResolveStateDir(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ResolveStateDir("/etc/eventscope/config.yaml"); got != "/etc/eventscope/state" {
		t.Errorf("relative state dir = %q", got)
	}
	cfg.StateDir = "/var/lib/eventscope"
	if got := cfg.ResolveStateDir("/etc/eventscope/config.yaml"); got != "/var/lib/eventscope" {
		t.Errorf("absolute state dir = %q", got)
	}
}
